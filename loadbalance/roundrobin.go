package loadbalance

import (
	"sync/atomic"

	"glweb/registry"
)

// RoundRobinBalancer cycles through endpoints in order.
// The counter is atomic, so Pick takes no lock.
type RoundRobinBalancer struct {
	counter atomic.Int64
}

func (b *RoundRobinBalancer) Pick(endpoints []registry.Endpoint, _ string) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	index := (b.counter.Add(1) - 1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
