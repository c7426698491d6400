// Package ssh implements routerclient.Client over RouterOS's SSH CLI (spec
// §4.12, §6 — the fallback transport, ≈150-200 ms per command). Every
// argument that reaches a command line has already passed
// routerclient.ValidateQueueNames / ValidateComment, so no further escaping
// is required, but we still quote defensively since RouterOS CLI syntax
// treats unquoted identifiers containing certain characters specially.
package ssh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
)

// Client opens one SSH connection per command, matching RouterOS's typical
// deployment where the device does not keep long-lived sessions idle.
type Client struct {
	Addr    string
	Config  *ssh.ClientConfig
	Timeout time.Duration
}

// New builds an SSH client that authenticates with the given username and
// password. RouterOS SSH servers commonly default to password auth for the
// scripting user this controller is configured with.
func New(addr, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		Addr: addr,
		Config: &ssh.ClientConfig{
			User:            username,
			Auth:            []ssh.AuthMethod{ssh.Password(password)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         timeout,
		},
		Timeout: timeout,
	}
}

func (c *Client) runCommand(ctx context.Context, cmd string) (string, error) {
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := ssh.Dial("tcp", c.Addr, c.Config)
		if err != nil {
			done <- result{"", fmt.Errorf("ssh: dial: %w", err)}
			return
		}
		defer conn.Close()

		session, err := conn.NewSession()
		if err != nil {
			done <- result{"", fmt.Errorf("ssh: new session: %w", err)}
			return
		}
		defer session.Close()

		out, err := session.CombinedOutput(cmd)
		if err != nil {
			done <- result{string(out), fmt.Errorf("ssh: command failed: %w", err)}
			return
		}
		done <- result{string(out), nil}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.out, r.err
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func (c *Client) SetRateLimits(ctx context.Context, downloadQueue, uploadQueue string, dlMbps, ulMbps float64) error {
	if err := routerclient.ValidateQueueNames(downloadQueue, uploadQueue); err != nil {
		return err
	}
	dlCmd := fmt.Sprintf("/queue/tree/set [find name=%s] max-limit=%.2fM", quote(downloadQueue), dlMbps)
	if _, err := c.runCommand(ctx, dlCmd); err != nil {
		return fmt.Errorf("ssh: set download rate: %w", err)
	}
	ulCmd := fmt.Sprintf("/queue/tree/set [find name=%s] max-limit=%.2fM", quote(uploadQueue), ulMbps)
	if _, err := c.runCommand(ctx, ulCmd); err != nil {
		return fmt.Errorf("ssh: set upload rate: %w", err)
	}
	return nil
}

func (c *Client) GetQueueStats(ctx context.Context, queueName string) (*cakestats.QueueStats, error) {
	if err := routerclient.ValidateComment(queueName); err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("/queue/tree/print stats without-paging where name=%s", quote(queueName))
	out, err := c.runCommand(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("ssh: get queue stats: %w", err)
	}
	return parseQueuePrint(out), nil
}

// parseQueuePrint extracts bytes/packets/dropped/queued-packets from
// RouterOS's "print stats" tabular output. RouterOS formats each field as
// "key=value" pairs separated by whitespace.
func parseQueuePrint(out string) *cakestats.QueueStats {
	fields := map[string]uint64{}
	for _, tok := range strings.Fields(out) {
		parts := strings.SplitN(tok, "=", 2)
		if len(parts) != 2 {
			continue
		}
		var v uint64
		if _, err := fmt.Sscanf(parts[1], "%d", &v); err == nil {
			fields[parts[0]] = v
		}
	}
	return &cakestats.QueueStats{
		Bytes:         fields["bytes"],
		Packets:       fields["packets"],
		Dropped:       fields["dropped"],
		QueuedPackets: fields["queued-packets"],
	}
}

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
	cmd := fmt.Sprintf("/ip/firewall/mangle/set [find comment=%s] disabled=%t", quote(comment), disabled)
	if _, err := c.runCommand(ctx, cmd); err != nil {
		return fmt.Errorf("ssh: toggle rule: %w", err)
	}
	return nil
}

func (c *Client) IsRuleEnabled(ctx context.Context, comment string) (bool, error) {
	if err := routerclient.ValidateComment(comment); err != nil {
		return false, err
	}
	cmd := fmt.Sprintf("/ip/firewall/mangle/print stats without-paging where comment=%s", quote(comment))
	out, err := c.runCommand(ctx, cmd)
	if err != nil {
		return false, fmt.Errorf("ssh: query rule state: %w", err)
	}
	return !strings.Contains(out, "disabled=true") && !strings.Contains(out, " X "), nil
}
