package exchange

import (
	"sync"

	"github.com/tarancss/exch/lib/keyring"
)

// nonceCache tracks the next usable nonce per signing address. Each entry carries its own lock so
// transfers from distinct identities never serialize behind each other; the cache mutex guards only
// map access and is never held across a network call.
type nonceCache struct {
	mu sync.Mutex
	m  map[keyring.Address]*nonceEntry
}

type nonceEntry struct {
	mu    sync.Mutex
	next  uint64
	known bool // false until the first nonce for this address is read from the node
}

func newNonceCache() *nonceCache {
	return &nonceCache{m: make(map[keyring.Address]*nonceEntry)}
}

// entry returns the cache entry for addr, creating it if needed. The entry's own mutex is not held on
// return; the caller locks it around the read-build-bump sequence.
func (c *nonceCache) entry(addr keyring.Address) *nonceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[addr]
	if !ok {
		e = &nonceEntry{}
		c.m[addr] = e
	}

	return e
}
