// Package fake provides an in-memory routerclient.Client test double, used
// the way the teacher's service tests inject a fake probe function: no
// network, deterministic, fully inspectable call history.
package fake

import (
	"context"
	"sync"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
)

// RateCall records one SetRateLimits invocation.
type RateCall struct {
	DownloadQueue, UploadQueue string
	DLMbps, ULMbps             float64
}

// Client is a fully in-memory router, safe for concurrent use. Tests set
// SetRateLimitsErr / QueueStatsFunc / rule state directly before exercising
// the controller under test.
type Client struct {
	mu sync.Mutex

	RateCalls []RateCall
	SetRateLimitsErr error

	QueueStats    map[string]*cakestats.QueueStats
	QueueStatsErr error

	ruleEnabled map[string]bool
	EnableRuleErr, DisableRuleErr, IsRuleEnabledErr error
	EnableCalls, DisableCalls int
}

func New() *Client {
	return &Client{
		QueueStats:  make(map[string]*cakestats.QueueStats),
		ruleEnabled: make(map[string]bool),
	}
}

func (c *Client) SetRateLimits(ctx context.Context, downloadQueue, uploadQueue string, dlMbps, ulMbps float64) error {
	if err := routerclient.ValidateQueueNames(downloadQueue, uploadQueue); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetRateLimitsErr != nil {
		return c.SetRateLimitsErr
	}
	c.RateCalls = append(c.RateCalls, RateCall{downloadQueue, uploadQueue, dlMbps, ulMbps})
	return nil
}

func (c *Client) GetQueueStats(ctx context.Context, queueName string) (*cakestats.QueueStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.QueueStatsErr != nil {
		return nil, c.QueueStatsErr
	}
	return c.QueueStats[queueName], nil
}

func (c *Client) EnableRule(ctx context.Context, comment string) error {
	if err := routerclient.ValidateComment(comment); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EnableCalls++
	if c.EnableRuleErr != nil {
		return c.EnableRuleErr
	}
	c.ruleEnabled[comment] = true
	return nil
}

func (c *Client) DisableRule(ctx context.Context, comment string) error {
	if err := routerclient.ValidateComment(comment); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DisableCalls++
	if c.DisableRuleErr != nil {
		return c.DisableRuleErr
	}
	c.ruleEnabled[comment] = false
	return nil
}

func (c *Client) IsRuleEnabled(ctx context.Context, comment string) (bool, error) {
	if err := routerclient.ValidateComment(comment); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IsRuleEnabledErr != nil {
		return false, c.IsRuleEnabledErr
	}
	return c.ruleEnabled[comment], nil
}

// RateCallCount returns the number of SetRateLimits calls so far, for
// flash-wear and rate-limiter assertions (spec §8 properties 4 and 5).
func (c *Client) RateCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.RateCalls)
}
