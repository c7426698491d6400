// Package rest implements routerclient.Client over RouterOS's REST/HTTPS
// API (spec §4.12, §6 — the recommended, ≈50 ms-per-command transport). It
// uses fasthttp rather than net/http, matching the rest of this module's
// HTTP stack (gofiber, which is fasthttp-based).
package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
)

// Client talks to a RouterOS device's /rest API over HTTPS.
type Client struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration

	hc *fasthttp.Client
}

// New builds a REST client against baseURL (e.g. "https://10.0.0.1").
func New(baseURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		Timeout:  timeout,
		hc:       &fasthttp.Client{},
	}
}

func (c *Client) authHeader() string {
	raw := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("rest: marshal request body: %w", err)
		}
		req.SetBody(payload)
	}

	deadline := c.Timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	if err := c.hc.DoTimeout(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("rest: request failed: %w", err)
	}
	return append([]byte(nil), resp.Body()...), resp.StatusCode(), nil
}

type setRateBody struct {
	MaxLimit string `json:".id,omitempty"`
	Target   string `json:"target,omitempty"`
	MaxLim   string `json:"max-limit"`
}

// SetRateLimits patches the two queue-tree items by name. The RouterOS REST
// endpoint used is PATCH /queue/tree/<name>.
func (c *Client) SetRateLimits(ctx context.Context, downloadQueue, uploadQueue string, dlMbps, ulMbps float64) error {
	if err := routerclient.ValidateQueueNames(downloadQueue, uploadQueue); err != nil {
		return err
	}
	if err := c.patchQueueRate(ctx, downloadQueue, dlMbps); err != nil {
		return fmt.Errorf("rest: set download rate: %w", err)
	}
	if err := c.patchQueueRate(ctx, uploadQueue, ulMbps); err != nil {
		return fmt.Errorf("rest: set upload rate: %w", err)
	}
	return nil
}

func (c *Client) patchQueueRate(ctx context.Context, queueName string, mbps float64) error {
	body := setRateBody{MaxLim: fmt.Sprintf("%.2fM", mbps)}
	_, status, err := c.do(ctx, fasthttp.MethodPatch, "/rest/queue/tree/"+queueName, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("rest: unexpected status %d", status)
	}
	return nil
}

type queueStatsResponse struct {
	Bytes   string `json:"bytes"`
	Packets string `json:"packets"`
	Dropped string `json:"dropped"`
	Queued  string `json:"queued-packets"`
}

// GetQueueStats reads queue counters via GET /queue/tree/<name>.
func (c *Client) GetQueueStats(ctx context.Context, queueName string) (*cakestats.QueueStats, error) {
	if err := routerclient.ValidateComment(queueName); err != nil {
		return nil, err
	}
	raw, status, err := c.do(ctx, fasthttp.MethodGet, "/rest/queue/tree/"+queueName, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("rest: unexpected status %d", status)
	}
	var resp queueStatsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("rest: decode queue stats: %w", err)
	}
	return &cakestats.QueueStats{
		Bytes:         parseUint(resp.Bytes),
		Packets:       parseUint(resp.Packets),
		Dropped:       parseUint(resp.Dropped),
		QueuedPackets: parseUint(resp.Queued),
	}, nil
}

func parseUint(s string) uint64 {
	var v uint64
	_, _ = fmt.Sscanf(s, "%d", &v)
	return v
}

type mangleRuleBody struct {
	Disabled string `json:"disabled"`
}

// EnableRule and DisableRule PATCH the mangle rule matched by comment. This
// client does not itself own the verify-with-retry contract of spec §4.9 —
// that belongs to the steering controller, which calls IsRuleEnabled after
// each toggle.
func (c *Client) EnableRule(ctx context.Context, comment string) error {
	return c.setRuleDisabled(ctx, comment, false)
}

func (c *Client) DisableRule(ctx context.Context, comment string) error {
	return c.setRuleDisabled(ctx, comment, true)
}

func (c *Client) setRuleDisabled(ctx context.Context, comment string, disabled bool) error {
	if err := routerclient.ValidateComment(comment); err != nil {
		return err
	}
	body := mangleRuleBody{Disabled: fmt.Sprintf("%t", disabled)}
	_, status, err := c.do(ctx, fasthttp.MethodPatch, "/rest/ip/firewall/mangle/"+comment, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("rest: unexpected status %d", status)
	}
	return nil
}

type mangleRuleResponse struct {
	Disabled string `json:"disabled"`
}

func (c *Client) IsRuleEnabled(ctx context.Context, comment string) (bool, error) {
	if err := routerclient.ValidateComment(comment); err != nil {
		return false, err
	}
	raw, status, err := c.do(ctx, fasthttp.MethodGet, "/rest/ip/firewall/mangle/"+comment, nil)
	if err != nil {
		return false, err
	}
	if status >= 300 {
		return false, fmt.Errorf("rest: unexpected status %d", status)
	}
	var resp mangleRuleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("rest: decode mangle rule: %w", err)
	}
	return resp.Disabled != "true", nil
}
