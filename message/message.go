// Package message defines the envelopes exchanged between the client and the
// transport, and the error a non-OK gRPC status turns into.
//
// A Request carries an already framed body; a Response carries either the
// whole unary body or, for server streams, the open body reader. Neither
// knows about protobuf.
package message

import (
	"io"
	"net/http"
	"strings"

	"glweb/protocol"
	"glweb/status"
)

// Header names used on the wire.
const (
	HeaderContentType = "Content-Type"
	HeaderAccept      = "Accept"
	HeaderRequestID   = "x-request-id"
	HeaderGRPCStatus  = "grpc-status"
	HeaderGRPCMessage = "grpc-message"

	ContentTypeGRPC = "application/grpc"
)

// Request is one outgoing RPC.
type Request struct {
	Method    string // "pkg.Service/Method"
	Path      string // "/pkg.Service/Method"
	Header    http.Header
	Body      []byte // framed request message
	Streaming bool   // server-streaming call; the response body is left open
}

// Response is what came back for a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Trailer    http.Header

	// Body holds the full response body of a unary call.
	Body []byte
	// Stream is the open body of a streaming call. The consumer closes it.
	Stream io.ReadCloser
}

// Code extracts the gRPC status of the response.
//
// Lookup order: the grpc-status header, then HTTP trailers, then a gRPC-Web
// trailer frame inside a unary body. When none carries a status the HTTP
// status code is mapped instead.
func (r *Response) Code() int {
	if v := r.Header.Get(HeaderGRPCStatus); v != "" {
		return status.Parse(v)
	}
	if v := r.Trailer.Get(HeaderGRPCStatus); v != "" {
		return status.Parse(v)
	}
	if t := TrailerFrame(r.Body); t != nil {
		if v := t.Get(HeaderGRPCStatus); v != "" {
			return status.Parse(v)
		}
	}
	return int(status.FromHTTP(r.StatusCode))
}

// GRPCMessage returns the grpc-message header or trailer, if any.
func (r *Response) GRPCMessage() string {
	if v := r.Header.Get(HeaderGRPCMessage); v != "" {
		return v
	}
	if v := r.Trailer.Get(HeaderGRPCMessage); v != "" {
		return v
	}
	if t := TrailerFrame(r.Body); t != nil {
		return t.Get(HeaderGRPCMessage)
	}
	return ""
}

// TrailerFrame returns the headers of the first gRPC-Web trailer frame in
// body, or nil when there is none.
func TrailerFrame(body []byte) http.Header {
	offset := 0
	for offset < len(body) {
		frame, n, err := protocol.Unmarshal(body, offset)
		if err != nil {
			return nil
		}
		if frame.IsTrailer() {
			return ParseTrailers(frame.Payload)
		}
		offset += n
	}
	return nil
}

// ParseTrailers reads a trailer block of "key: value\r\n" lines.
func ParseTrailers(block []byte) http.Header {
	h := make(http.Header)
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h
}
