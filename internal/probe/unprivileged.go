package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/pingsantohq/reachcheck/internal/icmp"
)

// UnprivilegedProber sends probes over datagram ICMP sockets, which Linux
// grants to groups listed in net.ipv4.ping_group_range without root. The
// kernel rewrites the identifier and filters replies per socket.
type UnprivilegedProber struct {
	payloadSize int
	resolver    *Resolver
}

func NewUnprivilegedProber(payloadSize int, resolver *Resolver) *UnprivilegedProber {
	if payloadSize <= 0 {
		payloadSize = icmp.DefaultPayloadSize
	}
	if resolver == nil {
		resolver = NewResolver(0)
	}
	return &UnprivilegedProber{payloadSize: payloadSize, resolver: resolver}
}

func (p *UnprivilegedProber) Probe(ctx context.Context, req Request) (time.Duration, error) {
	dst, err := p.resolver.Resolve(ctx, req.Host)
	if err != nil {
		return 0, err
	}

	pinger, err := probing.NewPinger(dst.String())
	if err != nil {
		return 0, fmt.Errorf("create pinger for %s: %w", dst, err)
	}
	pinger.Count = 1
	pinger.Size = p.payloadSize
	pinger.Timeout = req.Timeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return 0, &PermissionError{Err: err}
		}
		return 0, fmt.Errorf("ping %s: %w", dst, err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 || len(stats.Rtts) == 0 {
		return 0, ErrTimeout
	}
	return stats.Rtts[0], nil
}
