package probe

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultResolveTTL = 5 * time.Minute

var errNoIPv4 = errors.New("no IPv4 address")

// LookupFunc resolves a host name to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Resolver maps host names to IPv4 addresses, caching successful lookups so
// repeated probes of the same host do not hit DNS every time.
type Resolver struct {
	lookup LookupFunc
	cache  *ttlcache.Cache[string, netip.Addr]
}

type ResolverOption func(*Resolver)

// WithLookup replaces the system resolver.
func WithLookup(fn LookupFunc) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.lookup = fn
		}
	}
}

// NewResolver builds a resolver whose cache entries live for ttl. A
// non-positive ttl selects the default of five minutes.
func NewResolver(ttl time.Duration, opts ...ResolverOption) *Resolver {
	if ttl <= 0 {
		ttl = defaultResolveTTL
	}
	r := &Resolver{
		lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
		},
		cache: ttlcache.New[string, netip.Addr](
			ttlcache.WithTTL[string, netip.Addr](ttl),
			ttlcache.WithDisableTouchOnHit[string, netip.Addr](),
		),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the first IPv4 address of host. IPv4 literals bypass the
// cache. Failures are returned as *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if !addr.Is4() {
			return netip.Addr{}, &ResolutionError{Host: host, Err: errNoIPv4}
		}
		return addr, nil
	}
	if item := r.cache.Get(host); item != nil {
		return item.Value(), nil
	}
	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return netip.Addr{}, &ResolutionError{Host: host, Err: err}
	}
	for _, addr := range addrs {
		addr = addr.Unmap()
		if addr.Is4() {
			r.cache.Set(host, addr, ttlcache.DefaultTTL)
			return addr, nil
		}
	}
	return netip.Addr{}, &ResolutionError{Host: host, Err: errNoIPv4}
}
