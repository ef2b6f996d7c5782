// Package codec converts between plain Go payloads (map[string]any) and the
// protobuf bytes of a method's request and response messages.
//
// Encoding walks the request descriptor and validates as it goes, so a bad
// payload fails with a *ValidationError naming the offending field. Decoding
// is partial-tolerant and produces a normalized map (see Normalize).
package codec

import (
	"fmt"

	"glweb/schema"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Codec is what the RPC invoker needs from a message codec.
type Codec interface {
	Encode(method string, payload map[string]any) ([]byte, error)
	Decode(method string, data []byte) (map[string]any, error)
}

// ValidationError reports a request payload that does not fit its schema.
type ValidationError struct {
	Method string
	Path   string // dotted field path, e.g. "amount_msat.amount.msat"
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("codec: invalid payload for %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("codec: invalid payload for %s: %s: %s", e.Method, e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DecodeError reports response bytes that could not be parsed.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode %s response: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProtoCodec encodes against the descriptors of a schema.Registry.
type ProtoCodec struct {
	reg *schema.Registry
}

// New returns a codec bound to reg.
func New(reg *schema.Registry) *ProtoCodec {
	return &ProtoCodec{reg: reg}
}

// Registry returns the registry the codec resolves methods against.
func (c *ProtoCodec) Registry() *schema.Registry {
	return c.reg
}

// Encode validates payload against the method's request type and serializes it.
func (c *ProtoCodec) Encode(method string, payload map[string]any) ([]byte, error) {
	m, err := c.reg.Lookup(method)
	if err != nil {
		return nil, &ValidationError{Method: method, Reason: err.Error(), Err: err}
	}
	data, err := c.Marshal(m.Input, payload)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Method = m.FullName()
		}
		return nil, err
	}
	return data, nil
}

// Decode parses data as the method's response type and normalizes it.
func (c *ProtoCodec) Decode(method string, data []byte) (map[string]any, error) {
	m, err := c.reg.Lookup(method)
	if err != nil {
		return nil, &DecodeError{Method: method, Err: err}
	}
	msg, err := c.Unmarshal(m.Output, data)
	if err != nil {
		return nil, &DecodeError{Method: m.FullName(), Err: err}
	}
	return c.Normalize(msg), nil
}

// Marshal validates payload against md and serializes it deterministically.
func (c *ProtoCodec) Marshal(md protoreflect.MessageDescriptor, payload map[string]any) ([]byte, error) {
	msg, err := c.Build(md, payload)
	if err != nil {
		return nil, err
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, &ValidationError{Method: string(md.FullName()), Reason: err.Error(), Err: err}
	}
	return data, nil
}

// Build validates payload against md and returns the populated message.
func (c *ProtoCodec) Build(md protoreflect.MessageDescriptor, payload map[string]any) (*dynamicpb.Message, error) {
	b := builder{reg: c.reg}
	msg, err := b.message(md, payload, "")
	if err != nil {
		err.Method = string(md.FullName())
		return nil, err
	}
	return msg, nil
}

// Unmarshal parses data as md. Missing required fields are tolerated and
// unknown fields are kept on the message.
func (c *ProtoCodec) Unmarshal(md protoreflect.MessageDescriptor, data []byte) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(md)
	if err := (proto.UnmarshalOptions{AllowPartial: true}).Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
