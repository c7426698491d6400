package tcpprobe

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPingReturnsElapsedOnReachablePort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p := &Pinger{Ports: []string{port}}
	rtt, err := p.Ping(context.Background(), host, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("expected positive rtt, got %v", rtt)
	}
}

func TestPingReturnsErrorWhenNoPortReachable(t *testing.T) {
	p := &Pinger{Ports: []string{"1"}}
	_, err := p.Ping(context.Background(), "127.0.0.1", 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected error for unreachable port")
	}
}
