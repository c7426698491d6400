// Package routerclient defines the abstract boundary of spec §4.12: the
// only operations the core controllers depend on against the RouterOS
// device. Two real transports exist (rest, ssh) plus a fake for tests; the
// core treats all three identically.
package routerclient

import (
	"context"
	"errors"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/config"
)

// ErrInvalidIdentifier is returned when a queue name or mangle comment
// fails the identifier whitelist before any command is issued.
var ErrInvalidIdentifier = errors.New("routerclient: identifier failed validation")

// Client is the abstract router boundary of spec §4.12. Implementations
// must validate every identifier argument against config.ValidateIdentifier
// before it reaches a command string — this is the command-injection
// boundary (spec §9).
type Client interface {
	// SetRateLimits is idempotent: applying the same rates twice is a
	// no-op on the router side, though this client does not itself
	// dedupe — that's the core's change-detect responsibility (spec
	// §4.7 step 4).
	SetRateLimits(ctx context.Context, downloadQueue, uploadQueue string, dlMbps, ulMbps float64) error

	GetQueueStats(ctx context.Context, queueName string) (*cakestats.QueueStats, error)

	EnableRule(ctx context.Context, comment string) error
	DisableRule(ctx context.Context, comment string) error
	IsRuleEnabled(ctx context.Context, comment string) (bool, error)
}

// ValidateQueueNames is the shared guard every SetRateLimits implementation
// must run before splicing either name into a command.
func ValidateQueueNames(download, upload string) error {
	if err := config.ValidateIdentifier(download); err != nil {
		return err
	}
	if err := config.ValidateIdentifier(upload); err != nil {
		return err
	}
	return nil
}

// ValidateComment is the shared guard every rule-toggle implementation must
// run before splicing the mangle comment into a command.
func ValidateComment(comment string) error {
	return config.ValidateIdentifier(comment)
}
