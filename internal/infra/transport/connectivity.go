package transport

import (
	"context"
	"net"
	"time"
)

// Connectivity answers whether the upstream is reachable at all, so the
// pipeline can fail fast instead of burning the retry budget offline.
type Connectivity interface {
	Online(ctx context.Context) bool
}

type dialChecker struct {
	addr    string
	timeout time.Duration
}

func NewDialChecker(addr string) Connectivity {
	return dialChecker{addr: addr, timeout: 2 * time.Second}
}

func (d dialChecker) Online(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// AlwaysOnline skips the probe; used in tests and local development.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }
