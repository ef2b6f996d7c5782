// Package registry tracks which grpc-web proxies serve which node.
//
// Endpoints are keyed by node id (hex public key). A client that has no
// static endpoint discovers the proxies currently advertising its node and
// lets a loadbalance.Balancer pick one per call.
package registry

import (
	"context"
	"errors"
)

var ErrNoEndpoints = errors.New("registry: no endpoints for node")

// Endpoint is one grpc-web proxy serving a node.
type Endpoint struct {
	NodeID  string `json:"node_id"`
	URL     string `json:"url"`    // e.g. "http://10.0.0.5:1111"
	Weight  int    `json:"weight"` // for weighted balancing
	Version string `json:"version"`
}

type Registry interface {
	Register(ctx context.Context, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, nodeID, url string) error
	Discover(ctx context.Context, nodeID string) ([]Endpoint, error)
	Watch(ctx context.Context, nodeID string) <-chan []Endpoint
	Close() error
}
