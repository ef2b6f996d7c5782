package server

import (
	"context"
	"fmt"

	"glweb/schema"
)

// UnaryHandler answers one unary call. req is the normalized request; the
// returned map is encoded against the method's response type.
type UnaryHandler func(ctx context.Context, req map[string]any) (map[string]any, error)

// StreamHandler serves one server-streaming call. Each send writes one frame.
// Returning ends the stream; ctx is done when the caller goes away or the
// server shuts down.
type StreamHandler func(ctx context.Context, req map[string]any, send func(map[string]any) error) error

// methodType binds a schema method to its handler. Exactly one of unary and
// stream is set, matching method.ServerStreaming.
type methodType struct {
	method *schema.Method
	unary  UnaryHandler
	stream StreamHandler
}

// service groups the registered methods of one proto service, e.g. "cln.Node".
type service struct {
	name   string
	method map[string]*methodType
}

func newService(name string) *service {
	return &service{name: name, method: make(map[string]*methodType)}
}

func (s *service) register(mt *methodType) error {
	if _, dup := s.method[string(mt.method.Name)]; dup {
		return fmt.Errorf("server: %s already registered", mt.method.FullName())
	}
	s.method[string(mt.method.Name)] = mt
	return nil
}
