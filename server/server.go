// Package server implements a grpc-web endpoint that serves schema methods
// from registered handlers. It stands in for a node's grpc-web proxy in tests
// and local development.
//
// Request processing pipeline:
//
//	POST /pkg.Service/Method → ServeHTTP (one goroutine per request, net/http)
//	  → auth headers → method lookup → deframe → Codec.Unmarshal → Normalize
//	  → unary:  Middleware Chain → businessHandler → Codec.Marshal → framed body + grpc-status header
//	  → stream: grpc-status 0 header, one frame per send, trailer frame on return
//
// Handler errors never become HTTP errors: they are written as a framed text
// body with the matching grpc-status, the way the node's proxy reports them.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"glweb/codec"
	"glweb/credentials"
	"glweb/message"
	"glweb/middleware"
	"glweb/protocol"
	"glweb/registry"
	"glweb/schema"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// NoDetail is written as the error body when a handler error carries no message.
const NoDetail = message.NoDetail

// Server is the grpc-web endpoint that registers handlers and serves requests.
type Server struct {
	codec       *codec.ProtoCodec
	serviceMap  map[string]*service     // "cln.Node" → *service
	middlewares []middleware.Middleware // applied in order to unary calls
	handler     middleware.HandlerFunc  // middleware(middleware(...(businessHandler)))
	buildOnce   sync.Once
	logger      *zap.Logger
	requireAuth bool
	h2c         bool
	nodeID      string
	ttl         int64

	mu            sync.Mutex
	listener      net.Listener
	httpServer    *http.Server
	registry      registry.Registry // nil unless Serve was given one
	advertiseAddr string            // URL registered for nodeID, e.g. "http://127.0.0.1:1111"

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
	ctx      context.Context // cancelled by Shutdown; ends open streams
	cancel   context.CancelFunc
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAuth rejects calls that carry no public key or signature header with
// HTTP 401 and UNAUTHENTICATED.
func WithAuth(on bool) Option {
	return func(s *Server) { s.requireAuth = on }
}

// WithH2C accepts HTTP/2 with prior knowledge on cleartext connections.
func WithH2C(on bool) Option {
	return func(s *Server) { s.h2c = on }
}

// WithNodeID is the node id the server advertises in a registry.
func WithNodeID(id string) Option {
	return func(s *Server) { s.nodeID = id }
}

// WithTTL sets the registry lease TTL in seconds.
func WithTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// NewServer creates a server over the methods of reg.
func NewServer(reg *schema.Registry, opts ...Option) *Server {
	s := &Server{
		codec:      codec.New(reg),
		serviceMap: make(map[string]*service),
		logger:     zap.NewNop(),
		ttl:        10,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Use registers a middleware for unary calls. Middlewares are applied in the
// order they are added and must be registered before the first request.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

func (svr *Server) register(method string, mt *methodType, streaming bool) error {
	m, err := svr.codec.Registry().Lookup(method)
	if err != nil {
		return err
	}
	if m.ServerStreaming != streaming {
		return fmt.Errorf("server: %s: streaming is %v", m.FullName(), m.ServerStreaming)
	}
	mt.method = m

	svr.mu.Lock()
	defer svr.mu.Unlock()
	svc, ok := svr.serviceMap[string(m.Service)]
	if !ok {
		svc = newService(string(m.Service))
		svr.serviceMap[svc.name] = svc
	}
	return svc.register(mt)
}

// HandleUnary serves method, a unary method of the schema, with h.
func (svr *Server) HandleUnary(method string, h UnaryHandler) error {
	return svr.register(method, &methodType{unary: h}, false)
}

// HandleStream serves method, a server-streaming method of the schema, with h.
func (svr *Server) HandleStream(method string, h StreamHandler) error {
	return svr.register(method, &methodType{stream: h}, true)
}

func (svr *Server) lookup(name string) *methodType {
	svcName, methodName, ok := strings.Cut(name, "/")
	if !ok {
		return nil
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svc := svr.serviceMap[svcName]
	if svc == nil {
		return nil
	}
	return svc.method[methodName]
}

// Serve listens on address and serves until Shutdown. When reg is non-nil the
// server registers advertiseAddr for its node id and keeps the lease alive.
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	var h http.Handler = svr
	if svr.h2c {
		h = h2c.NewHandler(svr, &http2.Server{})
	}
	hs := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	svr.mu.Lock()
	svr.listener = listener
	svr.httpServer = hs
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.mu.Unlock()

	if reg != nil {
		ep := registry.Endpoint{NodeID: svr.nodeID, URL: advertiseAddr, Weight: 1}
		if err := reg.Register(svr.ctx, ep, svr.ttl); err != nil {
			_ = listener.Close()
			return err
		}
	}

	svr.logger.Info("serving grpc-web", zap.String("addr", listener.Addr().String()), zap.Bool("h2c", svr.h2c))
	err = hs.Serve(listener)
	if svr.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address once Serve has started, nil before.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop routing here)
//  2. Reject new requests and end open streams
//  3. Close the listener and idle connections
//  4. Wait for in-flight requests to finish (with timeout)
func (svr *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svr.mu.Lock()
	reg, hs, advertise := svr.registry, svr.httpServer, svr.advertiseAddr
	svr.mu.Unlock()

	if reg != nil {
		if err := reg.Deregister(ctx, svr.nodeID, advertise); err != nil {
			svr.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	// ServeHTTP only joins wg under mu with the flag unset.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	svr.mu.Unlock()
	svr.cancel()

	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// ServeHTTP handles one grpc-web call.
func (svr *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		writeResponse(w, errorResponse(http.StatusServiceUnavailable, codes.Unavailable, "server shutting down"))
		return
	}
	svr.wg.Add(1)
	svr.mu.Unlock()
	defer svr.wg.Done()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if svr.requireAuth && !authenticated(r.Header) {
		writeResponse(w, errorResponse(http.StatusUnauthorized, codes.Unauthenticated, "missing authentication headers"))
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	mt := svr.lookup(name)
	if mt == nil {
		writeResponse(w, errorResponse(http.StatusOK, codes.Unimplemented, "unknown method "+name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(protocol.MaxPayloadSize+protocol.HeaderSize)))
	if err != nil {
		writeResponse(w, errorResponse(http.StatusOK, codes.Internal, err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(svr.ctx, cancel)
	defer stop()

	req := &message.Request{
		Method:    mt.method.FullName(),
		Path:      r.URL.Path,
		Header:    r.Header,
		Body:      body,
		Streaming: mt.stream != nil,
	}

	if mt.stream != nil {
		svr.serveStream(ctx, w, mt, req)
		return
	}

	svr.buildOnce.Do(func() {
		svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	})
	resp, err := svr.handler(ctx, req)
	if err != nil {
		resp = statusResponse(err)
	}
	writeResponse(w, resp)
}

func authenticated(h http.Header) bool {
	return h.Get(credentials.HeaderPubKey) != "" && h.Get(credentials.HeaderSignature) != ""
}

// decodeRequest deframes body and normalizes it as md.
func (svr *Server) decodeRequest(mt *methodType, body []byte) (map[string]any, error) {
	frame, _, err := protocol.Unmarshal(body, 0)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "request frame: %v", err)
	}
	msg, err := svr.codec.Unmarshal(mt.method.Input, frame.Payload)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "request message: %v", err)
	}
	return svr.codec.Normalize(msg), nil
}

// businessHandler is the core handler for unary calls. It is wrapped by the
// middleware chain and has the HandlerFunc signature.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	mt := svr.lookup(req.Method)
	if mt == nil || mt.unary == nil {
		return errorResponse(http.StatusOK, codes.Unimplemented, "unknown method "+req.Method), nil
	}

	in, err := svr.decodeRequest(mt, req.Body)
	if err != nil {
		return statusResponse(err), nil
	}
	out, err := mt.unary(ctx, in)
	if err != nil {
		return statusResponse(err), nil
	}
	data, err := svr.codec.Marshal(mt.method.Output, out)
	if err != nil {
		svr.logger.Error("handler returned an invalid response", zap.String("method", req.Method), zap.Error(err))
		return errorResponse(http.StatusOK, codes.Internal, err.Error()), nil
	}

	h := make(http.Header)
	h.Set(message.HeaderContentType, message.ContentTypeGRPC)
	h.Set(message.HeaderGRPCStatus, "0")
	return &message.Response{StatusCode: http.StatusOK, Header: h, Body: protocol.Marshal(data)}, nil
}

// serveStream sends the status header at once, so the caller's open returns
// before the first event, then one frame per send and a trailer frame.
func (svr *Server) serveStream(ctx context.Context, w http.ResponseWriter, mt *methodType, req *message.Request) {
	in, err := svr.decodeRequest(mt, req.Body)
	if err != nil {
		writeResponse(w, statusResponse(err))
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set(message.HeaderContentType, message.ContentTypeGRPC)
	w.Header().Set(message.HeaderGRPCStatus, "0")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	send := func(out map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := svr.codec.Marshal(mt.method.Output, out)
		if err != nil {
			return err
		}
		if err := protocol.Encode(w, protocol.FlagData, data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err = mt.stream(ctx, in, send)
	if ctx.Err() != nil {
		if !svr.shutdown.Load() {
			return // caller went away
		}
		err = grpcstatus.Error(codes.Unavailable, "server shutting down")
	}

	st := grpcstatus.Convert(err)
	trailer := fmt.Sprintf("%s: %d\r\n", message.HeaderGRPCStatus, st.Code())
	if st.Code() != codes.OK {
		trailer += fmt.Sprintf("%s: %s\r\n", message.HeaderGRPCMessage, url.PathEscape(messageOrNone(st.Message())))
	}
	_ = protocol.Encode(w, protocol.FlagTrailer, []byte(trailer))
	if flusher != nil {
		flusher.Flush()
	}
}

func messageOrNone(msg string) string {
	if msg == "" {
		return NoDetail
	}
	return msg
}

// statusResponse turns a handler error into a response. Errors that carry a
// gRPC status keep their code; anything else is UNKNOWN.
func statusResponse(err error) *message.Response {
	st := grpcstatus.Convert(err)
	return errorResponse(http.StatusOK, st.Code(), st.Message())
}

// errorResponse writes msg as a framed body, with the code in grpc-status and
// the percent-encoded msg in grpc-message.
func errorResponse(httpStatus int, code codes.Code, msg string) *message.Response {
	msg = messageOrNone(msg)
	h := make(http.Header)
	h.Set(message.HeaderContentType, message.ContentTypeGRPC)
	h.Set(message.HeaderGRPCStatus, strconv.Itoa(int(code)))
	h.Set(message.HeaderGRPCMessage, url.PathEscape(msg))
	return &message.Response{StatusCode: httpStatus, Header: h, Body: protocol.Marshal([]byte(msg))}
}

func writeResponse(w http.ResponseWriter, resp *message.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
