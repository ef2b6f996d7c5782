package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"glweb/registry"
)

// ConsistentHashBalancer maps keys onto endpoints with a hash ring, so the
// same node id keeps hitting the same proxy until the endpoint set changes.
//
// Each endpoint is placed on the ring as N virtual nodes to even out the
// spread.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int
	ring     []uint32                      // sorted hashes
	nodes    map[uint32]*registry.Endpoint // hash → endpoint
	members  string                        // signature of the endpoint set on the ring
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.Endpoint),
	}
}

// Add places ep on the ring. Virtual node i is hashed from "{url}#{i}".
func (b *ConsistentHashBalancer) Add(ep *registry.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(ep)
	b.members = ""
}

func (b *ConsistentHashBalancer) add(ep *registry.Endpoint) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.URL, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = ep
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Get finds the endpoint responsible for key: the first ring entry at or
// after the key's hash, wrapping around.
func (b *ConsistentHashBalancer) Get(key string) (*registry.Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.get(key)
}

func (b *ConsistentHashBalancer) get(key string) (*registry.Endpoint, error) {
	if len(b.ring) == 0 {
		return nil, ErrNoEndpoints
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// Pick rebuilds the ring when the endpoint set differs from the last call
// and looks key up on it.
func (b *ConsistentHashBalancer) Pick(endpoints []registry.Endpoint, key string) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	sig := signature(endpoints)

	b.mu.RLock()
	if sig == b.members {
		defer b.mu.RUnlock()
		return b.get(key)
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if sig != b.members {
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]*registry.Endpoint, len(endpoints)*b.replicas)
		for i := range endpoints {
			ep := endpoints[i]
			b.add(&ep)
		}
		b.members = sig
	}
	return b.get(key)
}

func signature(endpoints []registry.Endpoint) string {
	urls := make([]string, len(endpoints))
	for i, ep := range endpoints {
		urls[i] = ep.URL
	}
	sort.Strings(urls)
	return strings.Join(urls, "\n")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
