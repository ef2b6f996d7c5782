// Package loadbalance picks one grpc-web endpoint per call.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity proxies
//   - WeightedRandom:  proxies of different capacity
//   - ConsistentHash:  keeps a node pinned to the same proxy while the set is stable
package loadbalance

import (
	"errors"
	"fmt"

	"glweb/config"
	"glweb/registry"
)

var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer selects a target before each call. Implementations are goroutine-safe.
type Balancer interface {
	// Pick selects one endpoint. key identifies the caller (the node id);
	// strategies without affinity ignore it.
	Pick(endpoints []registry.Endpoint, key string) (*registry.Endpoint, error)
	Name() string
}

// New returns the balancer named in config (config.Balancer*).
func New(name string) (Balancer, error) {
	switch name {
	case config.BalancerRoundRobin:
		return &RoundRobinBalancer{}, nil
	case config.BalancerWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	case config.BalancerConsistentHash, "":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
