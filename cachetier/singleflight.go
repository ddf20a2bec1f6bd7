package cachetier

import (
	"golang.org/x/sync/singleflight"
)

// coalescer implements keyed deduplication of concurrent cache misses.
// For a given key, at most one concurrent compute runs; all other
// callers arriving during that computation wait and receive the same
// result.
//
// golang.org/x/sync/singleflight.Group already provides exactly the
// (value, err, shared) contract GetOrCompute needs — its `shared` return,
// cleared for the caller that ran the function, is wasCoalesced — so it
// is used directly rather than hand-rolling a
// request coalescer. The group entry is removed by the library itself
// once the call completes, so no token or map entry can survive a panic
// or abort.
type coalescer struct {
	group singleflight.Group
}

func newCoalescer() *coalescer {
	return &coalescer{}
}

// Do runs compute for key if no computation is already in flight for it;
// otherwise it waits for the in-flight call and returns its result.
// wasCoalesced is true for every caller except the one that actually ran
// compute.
func (c *coalescer) Do(key string, compute func() ([]byte, error)) (value []byte, wasCoalesced bool, err error) {
	ran := false
	v, err, shared := c.group.Do(key, func() (any, error) {
		ran = true
		return compute()
	})
	wasCoalesced = shared && !ran
	if v == nil {
		return nil, wasCoalesced, err
	}
	return v.([]byte), wasCoalesced, err
}

// Forget releases any in-flight call for key without waiting for it,
// letting the next caller start a fresh computation.
func (c *coalescer) Forget(key string) {
	c.group.Forget(key)
}
