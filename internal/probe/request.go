// Package probe sends single ICMP echo probes and waits for the matching
// reply.
package probe

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Request describes one echo probe.
type Request struct {
	Host     string
	Sequence uint16
	Timeout  time.Duration
}

// Prober sends one echo request and returns the round-trip time of the
// matching reply. It returns ErrTimeout when no reply arrives in time, a
// *ResolutionError when the host cannot be resolved and a *PermissionError
// when the process may not open an ICMP socket.
type Prober interface {
	Probe(ctx context.Context, req Request) (time.Duration, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, req Request) (time.Duration, error)

func (f ProberFunc) Probe(ctx context.Context, req Request) (time.Duration, error) {
	return f(ctx, req)
}

// ProbeOnce sends a single probe with sequence 1.
func ProbeOnce(ctx context.Context, p Prober, host string, timeout time.Duration) (time.Duration, error) {
	return p.Probe(ctx, Request{Host: host, Sequence: 1, Timeout: timeout})
}

// RateLimited caps the rate at which p sends probes. A nil limiter returns p
// unchanged.
func RateLimited(p Prober, limiter *rate.Limiter) Prober {
	if limiter == nil {
		return p
	}
	return ProberFunc(func(ctx context.Context, req Request) (time.Duration, error) {
		if err := limiter.Wait(ctx); err != nil {
			return 0, err
		}
		return p.Probe(ctx, req)
	})
}

// NewLimiter returns a limiter allowing pps probes per second, or nil when
// pps is not positive.
func NewLimiter(pps int) *rate.Limiter {
	if pps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(pps), pps)
}
