// Package fallback implements the connectivity fallback of spec §4.10,
// invoked whenever the primary RTT measurer returns no reading. It
// distinguishes a WAN-side ISP outage (gateway still reachable) from
// filtered ICMP (TCP still works) from total connectivity loss, and applies
// the configured policy to decide whether the calling cycle should proceed,
// freeze, or fail.
package fallback

import (
	"context"
	"net"
	"time"
)

// Prober checks gateway reachability and TCP connect fallback. Split out as
// an interface so tests can substitute deterministic probes, the same
// pattern as rttmeasure.Pinger.
type Prober interface {
	PingGateway(ctx context.Context, gateway string, timeout time.Duration) bool
	TCPProbe(ctx context.Context, hostports []string, timeout time.Duration) bool
}

// NetProber is the real Prober, using ICMP-free mechanisms: a gateway probe
// performed as a short TCP dial (unprivileged, no raw sockets required) and
// a small fixed TCP connect fanout.
type NetProber struct {
	Dialer net.Dialer
}

func (p NetProber) PingGateway(ctx context.Context, gateway string, timeout time.Duration) bool {
	if gateway == "" {
		return false
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := p.Dialer.DialContext(dctx, "tcp", net.JoinHostPort(gateway, "80"))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (p NetProber) TCPProbe(ctx context.Context, hostports []string, timeout time.Duration) bool {
	for _, hp := range hostports {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := p.Dialer.DialContext(dctx, "tcp", hp)
		cancel()
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

// DefaultTCPTargets is the small fixed probe list spec §4.10 names.
var DefaultTCPTargets = []string{"1.1.1.1:443", "8.8.8.8:443", "9.9.9.9:443"}

// Policy selects the fallback behavior once WAN reachability has been
// established (spec §4.10).
type Policy string

const (
	Freeze              Policy = "freeze"
	UseLastRTT          Policy = "use_last_rtt"
	GracefulDegradation Policy = "graceful_degradation"
)

// Decision is the {should_continue, rtt_to_use} contract spec §4.10
// requires. On total connectivity loss ShouldContinue is false and RTTToUse
// is absent (nil), regardless of policy.
type Decision struct {
	ShouldContinue bool
	RTTToUse       *float64
	// TotalLoss distinguishes a confirmed total outage from a policy that
	// simply chose to freeze (both have ShouldContinue=true/false
	// combinations, so callers that need to tell them apart use this).
	TotalLoss bool
	// CycleFailed is set when graceful_degradation has exhausted
	// max_fallback_cycles; the calling cycle must report failure (feeds
	// spec §4.11's consecutive-failure counter).
	CycleFailed bool
}

// Handler tracks the consecutive-fallback-cycle counter graceful_degradation
// needs across calls; one Handler belongs to one autorate instance.
type Handler struct {
	Policy            Policy
	MaxFallbackCycles int
	Gateway           string
	TCPTargets        []string
	ProbeTimeout      time.Duration
	Prober            Prober

	consecutiveCycles int
	lastRTTMs         float64
	haveLastRTT       bool
}

func New(policy Policy, maxFallbackCycles int, gateway string, tcpTargets []string, probeTimeout time.Duration, prober Prober) *Handler {
	if len(tcpTargets) == 0 {
		tcpTargets = DefaultTCPTargets
	}
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Handler{
		Policy:            policy,
		MaxFallbackCycles: maxFallbackCycles,
		Gateway:           gateway,
		TCPTargets:        tcpTargets,
		ProbeTimeout:      probeTimeout,
		Prober:            prober,
	}
}

// ObserveSuccess resets the fallback-cycle counter and records the last
// known-good RTT, called by the autorate cycle whenever the RTT measurer
// succeeds directly (no fallback needed).
func (h *Handler) ObserveSuccess(rttMs float64) {
	h.consecutiveCycles = 0
	h.lastRTTMs = rttMs
	h.haveLastRTT = true
}

// ConsecutiveFallbackCycles reports how many cycles in a row have needed
// fallback, surfaced as icmp_unavailable_cycles in the persisted record.
func (h *Handler) ConsecutiveFallbackCycles() int {
	return h.consecutiveCycles
}

// Resolve runs the three-step algorithm of spec §4.10 and returns the
// decision the calling autorate cycle must honor exactly.
func (h *Handler) Resolve(ctx context.Context) Decision {
	gatewayOK := h.Prober.PingGateway(ctx, h.Gateway, h.ProbeTimeout)
	wanReachable := gatewayOK
	if !wanReachable {
		wanReachable = h.Prober.TCPProbe(ctx, h.TCPTargets, h.ProbeTimeout)
	}

	if !wanReachable {
		// Total connectivity loss: safe default regardless of policy.
		h.consecutiveCycles++
		return Decision{ShouldContinue: false, RTTToUse: nil, TotalLoss: true}
	}

	h.consecutiveCycles++

	switch h.Policy {
	case Freeze:
		return Decision{ShouldContinue: true, RTTToUse: nil}

	case UseLastRTT:
		if !h.haveLastRTT {
			return Decision{ShouldContinue: true, RTTToUse: nil}
		}
		v := h.lastRTTMs
		return Decision{ShouldContinue: true, RTTToUse: &v}

	case GracefulDegradation:
		if h.consecutiveCycles > h.MaxFallbackCycles {
			return Decision{ShouldContinue: false, RTTToUse: nil, CycleFailed: true}
		}
		if h.consecutiveCycles == 1 && h.haveLastRTT {
			v := h.lastRTTMs
			return Decision{ShouldContinue: true, RTTToUse: &v}
		}
		// Cycles 2..N: freeze.
		return Decision{ShouldContinue: true, RTTToUse: nil}

	default:
		return Decision{ShouldContinue: true, RTTToUse: nil}
	}
}
