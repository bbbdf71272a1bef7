package network

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultUnspentCacheTTL is how long a cached unspent listing stays fresh.
const DefaultUnspentCacheTTL = 10 * time.Second

// CachedLister memoizes ListUnspent results per address so that repeated
// syncs within one TTL window do not hit the chain backend.
type CachedLister struct {
	next  UnspentLister
	cache *ttlcache.Cache[string, []*UTXO]
}

// Compile-time interface check.
var _ UnspentLister = (*CachedLister)(nil)

// NewCachedLister wraps next. A non-positive ttl selects DefaultUnspentCacheTTL.
func NewCachedLister(next UnspentLister, ttl time.Duration) *CachedLister {
	if ttl <= 0 {
		ttl = DefaultUnspentCacheTTL
	}
	return &CachedLister{
		next: next,
		cache: ttlcache.New[string, []*UTXO](
			ttlcache.WithTTL[string, []*UTXO](ttl),
			ttlcache.WithDisableTouchOnHit[string, []*UTXO](),
		),
	}
}

// ListUnspent returns the cached listing when fresh. Errors are never cached.
func (c *CachedLister) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	if item := c.cache.Get(address); item != nil {
		return copyUTXOs(item.Value()), nil
	}

	utxos, err := c.next.ListUnspent(ctx, address)
	if err != nil {
		return nil, err
	}
	c.cache.Set(address, copyUTXOs(utxos), ttlcache.DefaultTTL)
	return utxos, nil
}

// Invalidate drops the cached listing for address, e.g. after a broadcast.
func (c *CachedLister) Invalidate(address string) {
	c.cache.Delete(address)
}

func copyUTXOs(in []*UTXO) []*UTXO {
	out := make([]*UTXO, len(in))
	for i, u := range in {
		cp := *u
		out[i] = &cp
	}
	return out
}
