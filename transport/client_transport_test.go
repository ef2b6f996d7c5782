package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"glweb/message"
	"glweb/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func echoHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cln.Node/Getinfo", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		w.Header().Set("grpc-status", "0")
		w.Header().Set("x-proto", r.Proto)
		_, _ = w.Write(body)
	})
}

func getinfoRequest() *message.Request {
	return &message.Request{
		Method: "cln.Node/Getinfo",
		Path:   "/cln.Node/Getinfo",
		Header: http.Header{"Content-Type": {"application/grpc"}},
		Body:   protocol.Marshal(nil),
	}
}

func TestRoundTrip(t *testing.T) {
	srv := httptest.NewServer(echoHandler(t))
	defer srv.Close()

	tr, err := NewClientTransport(srv.URL + "/")
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, srv.URL, tr.Endpoint())

	resp, err := tr.RoundTrip(context.Background(), getinfoRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/grpc", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, resp.Body)
	assert.Equal(t, 0, resp.Code())
}

func TestRoundTripH2C(t *testing.T) {
	srv := httptest.NewServer(h2c.NewHandler(echoHandler(t), &http2.Server{}))
	defer srv.Close()

	tr, err := NewClientTransport(srv.URL, WithHTTP2(true))
	require.NoError(t, err)
	defer tr.Close()

	resp, err := tr.RoundTrip(context.Background(), getinfoRequest())
	require.NoError(t, err)
	assert.Equal(t, "HTTP/2.0", resp.Header.Get("x-proto"))
}

func TestRoundTripStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("grpc-status", "0")
		_ = protocol.Encode(w, protocol.FlagData, []byte("event"))
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	tr, err := NewClientTransport(srv.URL)
	require.NoError(t, err)

	req := getinfoRequest()
	req.Streaming = true
	resp, err := tr.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	frame, err := protocol.Decode(resp.Stream)
	require.NoError(t, err)
	assert.Equal(t, "event", string(frame.Payload))
}

func TestRoundTripConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := NewClientTransport(url)
	require.NoError(t, err)

	_, err = tr.RoundTrip(context.Background(), getinfoRequest())
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "post", te.Op)
	assert.False(t, te.Timeout())
}

func TestRoundTripDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	tr, err := NewClientTransport(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.RoundTrip(ctx, getinfoRequest())
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRoundTripBodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("grpc-status", "0")
		_, _ = w.Write(make([]byte, maxUnaryBody+1))
	}))
	defer srv.Close()

	tr, err := NewClientTransport(srv.URL)
	require.NoError(t, err)

	_, err = tr.RoundTrip(context.Background(), getinfoRequest())
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read", te.Op)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDialTimeout(t *testing.T) {
	tr, err := NewClientTransport("http://localhost:1111")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, tr.DialTimeout())

	tr, err = NewClientTransport("http://localhost:1111", WithDialTimeout(250*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, tr.DialTimeout())

	p := NewPool(WithDialTimeout(time.Second))
	pooled, err := p.Get("http://b.example:1111")
	require.NoError(t, err)
	assert.Equal(t, time.Second, pooled.DialTimeout())
}

func TestNewClientTransportRejectsScheme(t *testing.T) {
	_, err := NewClientTransport("ftp://example.com")
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Op)
}

func TestPool(t *testing.T) {
	p := NewPool()

	a, err := p.Get("http://a.example:1111")
	require.NoError(t, err)
	again, err := p.Get("http://a.example:1111")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = p.Get("http://b.example:1111")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	p.Remove("http://b.example:1111")
	assert.Equal(t, 1, p.Len())

	require.NoError(t, p.Close())
	_, err = p.Get("http://a.example:1111")
	assert.ErrorIs(t, err, ErrPoolClosed)
}
