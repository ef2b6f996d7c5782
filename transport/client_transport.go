// Package transport carries framed gRPC-Web requests over HTTP.
//
// A ClientTransport is bound to one grpc-web endpoint and is safe for
// concurrent use: every call is an independent HTTP POST, and correlation is
// done by the HTTP layer, one request per response.
//
//	goroutine-1 ──POST /cln.Node/Getinfo──┐
//	goroutine-2 ──POST /cln.Node/Invoice──┼──→ http.Client (keep-alive / h2 streams) ──→ proxy
//	goroutine-3 ──POST /greenlight.Node/StreamNodeEvents (body left open) ──┘
//
// Unary responses are read in full before RoundTrip returns. Streaming
// responses hand the open body to the caller.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glweb/message"
	"glweb/protocol"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// maxUnaryBody bounds a unary response: one full-size message frame plus a
// trailer frame of up to trailerSlack bytes.
const (
	trailerSlack = 64 << 10
	maxUnaryBody = protocol.MaxPayloadSize + 2*protocol.HeaderSize + trailerSlack
)

// ErrBodyTooLarge is returned when a unary response exceeds maxUnaryBody.
var ErrBodyTooLarge = errors.New("response body too large")

// Error is a failure below the gRPC layer: the request could not be sent or
// the response could not be read.
type Error struct {
	Op  string // "dial", "post", "read"
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Transport is what the client needs to issue calls.
type Transport interface {
	RoundTrip(ctx context.Context, req *message.Request) (*message.Response, error)
	Close() error
}

// ClientTransport sends requests to a single endpoint.
type ClientTransport struct {
	base        *url.URL
	client      *http.Client
	logger      *zap.Logger
	dialTimeout time.Duration
}

// Option configures a ClientTransport.
type Option func(*options)

type options struct {
	http2       bool
	logger      *zap.Logger
	dialTimeout time.Duration
}

// WithHTTP2 speaks HTTP/2, over cleartext (h2c) for http:// endpoints.
func WithHTTP2(on bool) Option {
	return func(o *options) { o.http2 = on }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialTimeout bounds connection setup. The default is 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// NewClientTransport creates a transport for endpoint, e.g. "http://localhost:1111".
func NewClientTransport(endpoint string, opts ...Option) (*ClientTransport, error) {
	o := options{logger: zap.NewNop(), dialTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, &Error{Op: "dial", URL: endpoint, Err: err}
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, &Error{Op: "dial", URL: endpoint, Err: fmt.Errorf("unsupported scheme %q", base.Scheme)}
	}

	return &ClientTransport{
		base:        base,
		client:      &http.Client{Transport: newRoundTripper(base.Scheme, o)},
		logger:      o.logger,
		dialTimeout: o.dialTimeout,
	}, nil
}

func newRoundTripper(scheme string, o options) http.RoundTripper {
	dialer := &net.Dialer{Timeout: o.dialTimeout, KeepAlive: 30 * time.Second}
	if o.http2 && scheme == "http" {
		// h2c: HTTP/2 with prior knowledge over a plain TCP connection
		return &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		}
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   o.http2,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Endpoint returns the base URL requests are sent to.
func (t *ClientTransport) Endpoint() string {
	return t.base.String()
}

// DialTimeout returns the connection setup bound.
func (t *ClientTransport) DialTimeout() time.Duration {
	return t.dialTimeout
}

// RoundTrip posts req and returns the response.
//
// A non-2xx HTTP status is not an error here; the gRPC status is extracted by
// the caller. Only failures to send or read produce *Error.
func (t *ClientTransport) RoundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	target := t.base.String() + req.Path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &Error{Op: "post", URL: target, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Op: "post", URL: target, Err: err}
	}

	resp := &message.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
	}
	if req.Streaming {
		resp.Stream = httpResp.Body
		resp.Trailer = httpResp.Trailer
		return resp, nil
	}

	defer httpResp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, int64(maxUnaryBody)+1))
	if err != nil {
		return nil, &Error{Op: "read", URL: target, Err: err}
	}
	if len(body) > maxUnaryBody {
		return nil, &Error{Op: "read", URL: target, Err: ErrBodyTooLarge}
	}
	resp.Body = body
	// trailers are only populated once the body has been drained
	resp.Trailer = httpResp.Trailer

	t.logger.Debug("round trip",
		zap.String("url", target),
		zap.Int("http_status", httpResp.StatusCode),
		zap.Int("bytes", len(body)),
	)
	return resp, nil
}

// Close releases idle connections.
func (t *ClientTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
