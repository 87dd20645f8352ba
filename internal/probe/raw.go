package probe

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/pingsantohq/reachcheck/internal/icmp"
)

// readBufferSize comfortably holds an IPv4 header plus the largest echo
// reply this package provokes.
const readBufferSize = 2048

// packetConn is the slice of a raw ICMP socket the prober needs.
type packetConn interface {
	WriteTo(b []byte, dst netip.Addr) error
	// Wait blocks until the socket is readable or timeout elapses and
	// reports whether data is ready.
	Wait(timeout time.Duration) (bool, error)
	Read(b []byte) (int, error)
	Close() error
}

// RawProber probes over a fresh raw ICMP socket per probe. Every raw ICMP
// socket sees every inbound ICMP datagram, so replies are matched on type,
// identifier, sequence and source address.
type RawProber struct {
	id          uint16
	payloadSize int
	resolver    *Resolver
	open        func() (packetConn, error)
	now         func() time.Time
}

type RawOption func(*RawProber)

// WithPayloadSize sets the echo payload size including the timestamp.
func WithPayloadSize(n int) RawOption {
	return func(p *RawProber) {
		if n > 0 {
			p.payloadSize = n
		}
	}
}

// WithResolver shares a resolver between probers.
func WithResolver(r *Resolver) RawOption {
	return func(p *RawProber) {
		if r != nil {
			p.resolver = r
		}
	}
}

// WithIdentifier overrides the echo identifier, which defaults to the low
// 16 bits of the process id.
func WithIdentifier(id uint16) RawOption {
	return func(p *RawProber) {
		p.id = id
	}
}

func withConn(open func() (packetConn, error)) RawOption {
	return func(p *RawProber) {
		p.open = open
	}
}

func withNow(fn func() time.Time) RawOption {
	return func(p *RawProber) {
		p.now = fn
	}
}

func NewRawProber(opts ...RawOption) *RawProber {
	p := &RawProber{
		id:          uint16(os.Getpid() & 0xffff),
		payloadSize: icmp.DefaultPayloadSize,
		open:        openRawConn,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = NewResolver(0)
	}
	return p
}

func (p *RawProber) Probe(ctx context.Context, req Request) (time.Duration, error) {
	conn, err := p.open()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	dst, err := p.resolver.Resolve(ctx, req.Host)
	if err != nil {
		return 0, err
	}

	msg := icmp.EncodeRequest(p.id, req.Sequence, p.payloadSize, p.now())
	if err := conn.WriteTo(msg, dst); err != nil {
		return 0, fmt.Errorf("send echo request to %s: %w", dst, err)
	}
	return p.await(conn, dst, req.Sequence, req.Timeout)
}

// await reads until a matching reply arrives. The timeout is a budget for
// the whole wait: time spent on unrelated datagrams is deducted from it.
func (p *RawProber) await(conn packetConn, dst netip.Addr, seq uint16, timeout time.Duration) (time.Duration, error) {
	buf := make([]byte, readBufferSize)
	remaining := timeout
	for remaining > 0 {
		started := p.now()
		ready, err := conn.Wait(remaining)
		if err != nil {
			return 0, fmt.Errorf("wait for echo reply from %s: %w", dst, err)
		}
		if !ready {
			return 0, ErrTimeout
		}
		received := p.now()
		n, err := conn.Read(buf)
		if err == nil {
			if reply, decErr := icmp.DecodeReply(buf[:n]); decErr == nil && p.matches(reply, dst, seq) {
				return roundTrip(reply.Sent, received), nil
			}
		}
		remaining -= p.now().Sub(started)
	}
	return 0, ErrTimeout
}

func (p *RawProber) matches(reply icmp.Reply, dst netip.Addr, seq uint16) bool {
	return reply.IsEchoReply() && reply.ID == p.id && reply.Seq == seq && reply.Source == dst
}

func roundTrip(sent, received time.Time) time.Duration {
	if sent.IsZero() {
		return 0
	}
	if rtt := received.Sub(sent); rtt > 0 {
		return rtt
	}
	return 0
}

// CheckPrivileges opens and closes a raw ICMP socket, surfacing a
// *PermissionError before any probing starts.
func CheckPrivileges() error {
	conn, err := openRawConn()
	if err != nil {
		return err
	}
	return conn.Close()
}
