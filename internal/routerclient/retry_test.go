package routerclient_test

import (
	"context"
	"testing"

	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient/fake"
)

func TestToggleAndVerifySucceedsImmediately(t *testing.T) {
	c := fake.New()
	if err := routerclient.ToggleAndVerify(context.Background(), c, "cake_steer_wan1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	enabled, err := c.IsRuleEnabled(context.Background(), "cake_steer_wan1")
	if err != nil || !enabled {
		t.Fatalf("expected rule enabled, got enabled=%v err=%v", enabled, err)
	}
}

func TestToggleAndVerifyPropagatesToggleFailure(t *testing.T) {
	c := fake.New()
	c.EnableRuleErr = context.DeadlineExceeded
	if err := routerclient.ToggleAndVerify(context.Background(), c, "cake_steer_wan1", true); err == nil {
		t.Fatalf("expected toggle failure to propagate")
	}
}

func TestToggleAndVerifyRejectsInvalidComment(t *testing.T) {
	c := fake.New()
	if err := routerclient.ToggleAndVerify(context.Background(), c, "bad comment!", true); err == nil {
		t.Fatalf("expected identifier validation failure")
	}
}
