// Package client is the RPC invoker for a Greenlight node's grpc-web endpoint.
//
// A Client owns the connection lifecycle: every unary Call and every event
// subscription goes through it, and Stop tears all of them down.
//
// Call pipeline:
//
//	Call(method, payload)
//	  → Codec.Encode → protocol.Marshal → auth headers
//	  → Middleware Chain (request id, logging, metrics, rate limit, timeout, retry)
//	  → roundTrip (static transport, or discover → balance → pool)
//	  → grpc-status == 0 ? UnaryPayload → Codec.Decode : RPCError
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"glweb/codec"
	"glweb/config"
	"glweb/credentials"
	"glweb/loadbalance"
	"glweb/message"
	"glweb/middleware"
	"glweb/protocol"
	"glweb/registry"
	"glweb/schema"
	"glweb/status"
	"glweb/stream"
	"glweb/transport"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultEventsMethod is the server-streaming method Subscribe opens.
const DefaultEventsMethod = "greenlight.Node/StreamNodeEvents"

// maxErrorBody bounds how much of a failed stream open is read for the error text.
const maxErrorBody = 64 << 10

var (
	// ErrStopped is returned by calls made after Stop.
	ErrStopped = errors.New("client: stopped")
	// ErrStreamUnsupported matches any UnsupportedError.
	ErrStreamUnsupported = errors.New("client: event stream not supported by node")
	// ErrStreamingMethod is returned by Call for server-streaming methods.
	ErrStreamingMethod = errors.New("client: method is server-streaming, use Subscribe")
)

// UnsupportedError reports that the node refused to open the event stream.
// It matches ErrStreamUnsupported and also unwraps to the *message.RPCError.
type UnsupportedError struct {
	Method string
	Err    error
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("client: %s unsupported: %v", e.Method, e.Err)
}

func (e *UnsupportedError) Unwrap() []error {
	return []error{ErrStreamUnsupported, e.Err}
}

type options struct {
	schema       *schema.Registry
	creds        credentials.Credentials
	logger       *zap.Logger
	metrics      prometheus.Registerer
	transport    transport.Transport
	discovery    registry.Registry
	balancer     loadbalance.Balancer
	now          func() time.Time
	middlewares  []middleware.Middleware
	eventsMethod string
}

// Option overrides what would otherwise be built from config.
type Option func(*options)

// WithSchema uses reg instead of the built-in schema or config.Schema.
func WithSchema(reg *schema.Registry) Option {
	return func(o *options) { o.schema = reg }
}

// WithCredentials signs every request with c.
func WithCredentials(c credentials.Credentials) Option {
	return func(o *options) { o.creds = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers call metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.metrics = reg }
}

// WithTransport sends every request through t. The client closes t on Stop.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithDiscovery resolves endpoints for config.NodeID through reg and picks
// one per call with b. The caller keeps ownership of reg.
func WithDiscovery(reg registry.Registry, b loadbalance.Balancer) Option {
	return func(o *options) {
		o.discovery = reg
		o.balancer = b
	}
}

// WithClock sets the time source for the timestamp header.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMiddleware appends interceptors inside the built-in ones.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithEventsMethod changes the method Subscribe opens.
func WithEventsMethod(method string) Option {
	return func(o *options) { o.eventsMethod = method }
}

// Client issues calls against one node. It is safe for concurrent use.
type Client struct {
	cfg          config.Config
	codec        *codec.ProtoCodec
	creds        credentials.Credentials
	logger       *zap.Logger
	now          func() time.Time
	eventsMethod string
	handler      middleware.HandlerFunc

	transport     transport.Transport
	pool          *transport.Pool
	discovery     registry.Registry
	ownsDiscovery bool
	balancer      loadbalance.Balancer
	watchCancel   context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	streams  map[*stream.EventStream]struct{}
	stopOnce sync.Once
	stopErr  error
}

// New builds a client from cfg. Options take precedence over cfg.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	o := options{now: time.Now, eventsMethod: DefaultEventsMethod}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if o.schema == nil {
		if cfg.Schema != "" {
			reg, err := schema.Load(cfg.Schema)
			if err != nil {
				return nil, err
			}
			o.schema = reg
		} else {
			o.schema = schema.Default()
		}
	}
	if o.creds == nil && cfg.Credentials != "" {
		creds, err := credentials.Load(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		o.creds = creds
	}

	c := &Client{
		cfg:          cfg,
		codec:        codec.New(o.schema),
		creds:        o.creds,
		logger:       o.logger.With(zap.String("node_id", cfg.NodeID)),
		now:          o.now,
		eventsMethod: o.eventsMethod,
		transport:    o.transport,
		discovery:    o.discovery,
		balancer:     o.balancer,
		streams:      make(map[*stream.EventStream]struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{
		middleware.RequestIDMiddleware(),
		middleware.LoggingMiddleware(c.logger),
	}
	if o.metrics != nil {
		mws = append(mws, middleware.NewMetrics(o.metrics).Middleware())
	}
	if cfg.RateLimit.RPS > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	mws = append(mws, middleware.TimeOutMiddleware(cfg.Timeout))
	if cfg.Retry.MaxRetries > 0 {
		mws = append(mws, middleware.RetryMiddleware(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, c.logger))
	}
	mws = append(mws, o.middlewares...)
	c.handler = middleware.Chain(mws...)(c.roundTrip)
	return c, nil
}

// connect settles how requests reach the node: a given transport, discovery,
// the static endpoint, or etcd discovery from config, in that order.
func (c *Client) connect() error {
	topts := []transport.Option{
		transport.WithHTTP2(c.cfg.HTTP2),
		transport.WithLogger(c.logger),
	}
	if c.cfg.DialTimeout > 0 {
		topts = append(topts, transport.WithDialTimeout(c.cfg.DialTimeout))
	}
	switch {
	case c.transport != nil:
		return nil
	case c.discovery != nil:
	case c.cfg.Endpoint != "":
		t, err := transport.NewClientTransport(c.cfg.Endpoint, topts...)
		if err != nil {
			return err
		}
		c.transport = t
		return nil
	case len(c.cfg.Registry.EtcdEndpoints) > 0:
		reg, err := registry.NewEtcdRegistry(c.cfg.Registry.EtcdEndpoints, c.cfg.Registry.Prefix, c.cfg.Registry.DialTimeout, c.logger)
		if err != nil {
			return err
		}
		c.discovery = reg
		c.ownsDiscovery = true
	default:
		return errors.New("client: no endpoint configured")
	}

	if c.balancer == nil {
		b, err := loadbalance.New(c.cfg.Balancer)
		if err != nil {
			return err
		}
		c.balancer = b
	}
	c.pool = transport.NewPool(topts...)

	ctx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel
	go c.prune(c.discovery.Watch(ctx, c.cfg.NodeID))
	return nil
}

// prune drops pooled transports for endpoints that stopped advertising the node.
func (c *Client) prune(updates <-chan []registry.Endpoint) {
	for eps := range updates {
		live := make(map[string]bool, len(eps))
		for _, ep := range eps {
			live[ep.URL] = true
		}
		for _, url := range c.pool.Endpoints() {
			if !live[url] {
				c.logger.Info("endpoint withdrawn", zap.String("url", url))
				c.pool.Remove(url)
			}
		}
	}
}

// roundTrip is the innermost handler of the chain.
func (c *Client) roundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	if c.transport != nil {
		return c.transport.RoundTrip(ctx, req)
	}

	endpoints, err := c.discovery.Discover(ctx, c.cfg.NodeID)
	if err != nil {
		return nil, &transport.Error{Op: "discover", URL: c.cfg.NodeID, Err: err}
	}
	ep, err := c.balancer.Pick(endpoints, c.cfg.NodeID)
	if err != nil {
		return nil, &transport.Error{Op: "discover", URL: c.cfg.NodeID, Err: err}
	}
	t, err := c.pool.Get(ep.URL)
	if err != nil {
		return nil, &transport.Error{Op: "dial", URL: ep.URL, Err: err}
	}
	return t.RoundTrip(ctx, req)
}

// Codec returns the codec the client encodes and decodes with.
func (c *Client) Codec() *codec.ProtoCodec {
	return c.codec
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// newRequest frames body and attaches the fixed and auth headers.
func (c *Client) newRequest(m *schema.Method, body []byte) (*message.Request, error) {
	framed := protocol.Marshal(body)
	h := make(http.Header)
	h.Set(message.HeaderContentType, message.ContentTypeGRPC)
	h.Set(message.HeaderAccept, message.ContentTypeGRPC)
	if c.creds != nil {
		if err := credentials.Apply(h, c.creds, framed, c.now()); err != nil {
			return nil, err
		}
	}
	return &message.Request{
		Method:    m.FullName(),
		Path:      m.Path(),
		Header:    h,
		Body:      framed,
		Streaming: m.ServerStreaming,
	}, nil
}

// Call performs one unary RPC and returns the normalized response.
//
// Errors are one of *codec.ValidationError (nothing was sent),
// *transport.Error, *message.RPCError (the node answered with a non-OK
// status), *protocol.FrameError or *codec.DecodeError.
func (c *Client) Call(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	if c.isStopped() {
		return nil, ErrStopped
	}
	m, err := c.codec.Registry().Lookup(method)
	if err != nil {
		return nil, &codec.ValidationError{Method: method, Reason: err.Error(), Err: err}
	}
	if m.ServerStreaming {
		return nil, fmt.Errorf("%w: %s", ErrStreamingMethod, m.FullName())
	}

	body, err := c.codec.Marshal(m.Input, payload)
	if err != nil {
		var ve *codec.ValidationError
		if errors.As(err, &ve) {
			ve.Method = m.FullName()
		}
		return nil, err
	}
	req, err := c.newRequest(m, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.handler(ctx, req)
	if err != nil {
		return nil, err
	}

	if code := resp.Code(); !status.IsOK(code) {
		return nil, message.NewRPCError(code, resp)
	}

	data, err := protocol.UnaryPayload(resp.Body)
	if err != nil {
		return nil, err
	}
	return c.codec.Decode(m.FullName(), data)
}

// Subscribe opens the node's event stream.
//
// A node that answers the open with a non-OK status yields an
// *UnsupportedError, so callers can tell "no event support" apart from "no
// events yet". Cancelling ctx aborts the open only; once Subscribe returns,
// the stream lives until it is closed, the node ends it, or Stop is called.
func (c *Client) Subscribe(ctx context.Context) (*stream.EventStream, error) {
	if c.isStopped() {
		return nil, ErrStopped
	}
	m, err := c.codec.Registry().Lookup(c.eventsMethod)
	if err != nil {
		return nil, err
	}
	body, err := c.codec.Marshal(m.Input, nil)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(m, body)
	if err != nil {
		return nil, err
	}
	req.Streaming = true

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopOpen := context.AfterFunc(ctx, cancel)
	resp, err := c.handler(streamCtx, req)
	stopOpen()
	if err != nil {
		cancel()
		return nil, err
	}

	if code := resp.Code(); !status.IsOK(code) {
		if resp.Stream != nil {
			resp.Body, _ = io.ReadAll(io.LimitReader(resp.Stream, maxErrorBody))
			_ = resp.Stream.Close()
		}
		cancel()
		rpcErr := message.NewRPCError(code, resp)
		c.logger.Info("event stream unavailable", zap.String("method", m.FullName()), zap.Error(rpcErr))
		return nil, &UnsupportedError{Method: m.FullName(), Err: rpcErr}
	}
	if resp.Stream == nil {
		cancel()
		return nil, &transport.Error{Op: "read", URL: m.Path(), Err: errors.New("response has no stream body")}
	}

	outMD := m.Output
	sb := &streamBody{ReadCloser: resp.Stream, cancel: cancel}
	s := stream.New(sb, stream.NewDecoder(c.codec, outMD), c.logger)
	sb.release = func() { c.forget(s) }

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = s.Close()
		return nil, ErrStopped
	}
	c.streams[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

func (c *Client) forget(s *stream.EventStream) {
	c.mu.Lock()
	delete(c.streams, s)
	c.mu.Unlock()
}

// streamBody ties the request context and the client's bookkeeping to the
// stream body, so closing the stream releases all three.
type streamBody struct {
	io.ReadCloser
	cancel  context.CancelFunc
	release func()
}

func (b *streamBody) Close() error {
	b.cancel()
	err := b.ReadCloser.Close()
	if b.release != nil {
		b.release()
	}
	return err
}

// Stop closes every open event stream and the underlying transports. Calls
// after Stop fail with ErrStopped; a second Stop does nothing.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		open := make([]*stream.EventStream, 0, len(c.streams))
		for s := range c.streams {
			open = append(open, s)
		}
		c.mu.Unlock()

		for _, s := range open {
			_ = s.Close()
		}

		if c.watchCancel != nil {
			c.watchCancel()
		}
		var errs []error
		if c.transport != nil {
			errs = append(errs, c.transport.Close())
		}
		if c.pool != nil {
			errs = append(errs, c.pool.Close())
		}
		if c.ownsDiscovery {
			errs = append(errs, c.discovery.Close())
		}
		c.stopErr = errors.Join(errs...)
		c.logger.Debug("client stopped", zap.Int("streams_closed", len(open)))
	})
	return c.stopErr
}
