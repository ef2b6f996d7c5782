package registry

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdRegistry stores endpoints in etcd:
//
//	Key:   {prefix}/{nodeID}/{escaped url}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL leases, so a proxy that dies without deregistering
// disappears once its lease expires.
type EtcdRegistry struct {
	client *clientv3.Client // shared across goroutines
	prefix string
	logger *zap.Logger
}

// NewEtcdRegistry connects to etcd. prefix defaults to "/glweb/nodes".
func NewEtcdRegistry(endpoints []string, prefix string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "/glweb/nodes"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EtcdRegistry{client: c, prefix: strings.TrimRight(prefix, "/"), logger: logger}, nil
}

func (r *EtcdRegistry) nodePrefix(nodeID string) string {
	return r.prefix + "/" + nodeID + "/"
}

func (r *EtcdRegistry) key(nodeID, u string) string {
	return r.nodePrefix(nodeID) + url.PathEscape(u)
}

// Register puts ep under a lease of ttl seconds and keeps the lease alive
// in the background.
//
// The lease id stays local so one EtcdRegistry can register many endpoints.
func (r *EtcdRegistry) Register(ctx context.Context, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	if _, err := r.client.Put(ctx, r.key(ep.NodeID, ep.URL), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive outlives ctx; it stops when the client is closed
	ch, err := r.client.KeepAlive(context.WithoutCancel(ctx), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("node_id", ep.NodeID), zap.String("url", ep.URL))
	}()
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, nodeID, u string) error {
	_, err := r.client.Delete(ctx, r.key(nodeID, u))
	return err
}

// Watch re-reads the node's endpoints whenever anything under its prefix
// changes, until ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, nodeID string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.nodePrefix(nodeID), clientv3.WithPrefix())
		for range watchChan {
			eps, err := r.Discover(ctx, nodeID)
			if err != nil {
				r.logger.Warn("endpoint refresh failed", zap.String("node_id", nodeID), zap.Error(err))
				continue
			}
			select {
			case ch <- eps:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (r *EtcdRegistry) Discover(ctx context.Context, nodeID string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, r.nodePrefix(nodeID), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.logger.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key))
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
