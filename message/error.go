package message

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"glweb/protocol"
	"glweb/status"

	"github.com/goccy/go-yaml"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// NoDetail is the body text a node sends when it has nothing to say about a
// failure. It is replaced by the canonical description of the code.
const NoDetail = "None"

// RPCError is a call that completed at the transport level but carried a
// non-OK gRPC status.
type RPCError struct {
	Code    int
	Message string
	// Details is the parsed error body when the node sent a loose
	// `{key: value}` object, nil otherwise.
	Details map[string]any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", status.Name(e.Code), e.Message)
}

// GRPCStatus lets grpc/status.FromError and status.Code understand the error.
func (e *RPCError) GRPCStatus() *grpcstatus.Status {
	return grpcstatus.New(codes.Code(uint32(e.Code)), e.Message)
}

// NewRPCError builds the error for a non-OK response.
//
// The body is deframed when it holds a complete frame and used raw otherwise,
// decoded as UTF-8, percent-decoded and trimmed. The exact text "None" (or an
// empty body with no grpc-message) yields the canonical description of code.
// A body that reads as a `{key: value}` object is kept in Details.
func NewRPCError(code int, resp *Response) *RPCError {
	text := bodyText(resp.Body)
	if text == "" {
		text = percentDecode(strings.TrimSpace(resp.GRPCMessage()))
	}

	if text == "" || text == NoDetail {
		desc := status.Describe(code)
		return &RPCError{
			Code:    code,
			Message: desc,
			Details: map[string]any{"code": code, "message": desc},
		}
	}

	e := &RPCError{Code: code, Message: text}
	if obj, ok := parseLoose(text); ok {
		e.Details = obj
		if msg, ok := obj["message"].(string); ok && msg != "" {
			e.Message = msg
		}
	}
	return e
}

func bodyText(body []byte) string {
	raw := body
	if frame, _, err := protocol.Unmarshal(body, 0); err == nil && !frame.IsTrailer() {
		raw = frame.Payload
	} else if err == nil {
		raw = nil
	}
	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return strings.TrimSpace(percentDecode(text))
}

// percentDecode undoes URI component escaping. Text that is not valid
// escaping is returned unchanged.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// parseLoose reads `{code: 2, message: boom}` style bodies. Only objects are
// accepted; anything else is left to the caller as plain text.
func parseLoose(text string) (map[string]any, bool) {
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return nil, false
	}
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
