package transport

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport: pool closed")

// Pool caches one ClientTransport per endpoint so that discovered endpoints
// reuse their keep-alive connections across calls.
type Pool struct {
	mu         sync.Mutex
	transports map[string]*ClientTransport
	opts       []Option
	closed     bool
}

// NewPool creates an empty pool; transports are created lazily with opts.
func NewPool(opts ...Option) *Pool {
	return &Pool{
		transports: make(map[string]*ClientTransport),
		opts:       opts,
	}
}

// Get returns the transport for endpoint, creating it on first use.
func (p *Pool) Get(endpoint string) (*ClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if t, ok := p.transports[endpoint]; ok {
		return t, nil
	}
	t, err := NewClientTransport(endpoint, p.opts...)
	if err != nil {
		return nil, err
	}
	p.transports[endpoint] = t
	return t, nil
}

// Remove drops the transport for an endpoint that is no longer advertised.
func (p *Pool) Remove(endpoint string) {
	p.mu.Lock()
	t, ok := p.transports[endpoint]
	delete(p.transports, endpoint)
	p.mu.Unlock()
	if ok {
		_ = t.Close()
	}
}

// Endpoints lists the endpoints that currently have a transport.
func (p *Pool) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.transports))
	for ep := range p.transports {
		out = append(out, ep)
	}
	return out
}

// Len returns the number of cached transports.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports)
}

// Close closes every cached transport. Further Gets fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	transports := p.transports
	p.transports = make(map[string]*ClientTransport)
	p.closed = true
	p.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}
