package routerclient

import (
	"context"
	"fmt"
	"time"
)

// VerifyRetryBackoff bounds rule-toggle verification to one check per
// entry (3 checks). The first check runs right after the toggle; the waits
// between checks are the leading entries (100ms, then 200ms), and the final
// 400ms entry is not waited on.
var VerifyRetryBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// ToggleAndVerify calls toggle, then polls IsRuleEnabled until it reports
// wantEnabled or the retry budget is exhausted. Verification failure is
// itself treated as a toggle failure (spec §4.9).
func ToggleAndVerify(ctx context.Context, client Client, comment string, enable bool) error {
	var toggleErr error
	if enable {
		toggleErr = client.EnableRule(ctx, comment)
	} else {
		toggleErr = client.DisableRule(ctx, comment)
	}
	if toggleErr != nil {
		return fmt.Errorf("routerclient: toggle rule %q: %w", comment, toggleErr)
	}

	var lastErr error
	for i, wait := range VerifyRetryBackoff {
		enabled, err := client.IsRuleEnabled(ctx, comment)
		if err == nil && enabled == enable {
			return nil
		}
		lastErr = err
		if i < len(VerifyRetryBackoff)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("routerclient: verify rule %q after toggle: %w", comment, lastErr)
	}
	return fmt.Errorf("routerclient: rule %q did not reach desired state after toggle", comment)
}
