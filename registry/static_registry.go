package registry

import (
	"context"
	"sort"
	"sync"
)

// StaticRegistry keeps endpoints in memory. TTLs are ignored.
type StaticRegistry struct {
	mu       sync.Mutex
	nodes    map[string]map[string]Endpoint // node id → url → endpoint
	watchers map[string][]chan []Endpoint
}

// NewStaticRegistry creates a registry pre-populated with eps.
func NewStaticRegistry(eps ...Endpoint) *StaticRegistry {
	r := &StaticRegistry{
		nodes:    make(map[string]map[string]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
	for _, ep := range eps {
		r.put(ep)
	}
	return r
}

func (r *StaticRegistry) put(ep Endpoint) {
	if r.nodes[ep.NodeID] == nil {
		r.nodes[ep.NodeID] = make(map[string]Endpoint)
	}
	r.nodes[ep.NodeID][ep.URL] = ep
}

func (r *StaticRegistry) Register(_ context.Context, ep Endpoint, _ int64) error {
	r.mu.Lock()
	r.put(ep)
	r.mu.Unlock()
	r.notify(ep.NodeID)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, nodeID, url string) error {
	r.mu.Lock()
	delete(r.nodes[nodeID], url)
	r.mu.Unlock()
	r.notify(nodeID)
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, nodeID string) ([]Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(nodeID), nil
}

func (r *StaticRegistry) snapshot(nodeID string) []Endpoint {
	eps := make([]Endpoint, 0, len(r.nodes[nodeID]))
	for _, ep := range r.nodes[nodeID] {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].URL < eps[j].URL })
	return eps
}

// Watch emits the endpoint list after every change until ctx is done.
// Slow readers only see the latest list.
func (r *StaticRegistry) Watch(ctx context.Context, nodeID string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	r.mu.Lock()
	r.watchers[nodeID] = append(r.watchers[nodeID], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[nodeID]
		for i, w := range ws {
			if w == ch {
				r.watchers[nodeID] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *StaticRegistry) notify(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eps := r.snapshot(nodeID)
	for _, ch := range r.watchers[nodeID] {
		select {
		case <-ch: // drop the stale list
		default:
		}
		ch <- eps
	}
}

func (r *StaticRegistry) Close() error { return nil }
