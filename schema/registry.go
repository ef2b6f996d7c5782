// Package schema holds the protobuf descriptors glweb encodes and decodes against.
//
// A Registry is an explicit object: the caller builds it (from the built-in
// descriptors, a FileDescriptorSet produced by `protoc -o`, or hand-assembled
// FileDescriptorProtos) and hands it to the codec. Nothing here is process-wide.
//
// Methods are indexed from service descriptors, so a method name resolves to
// its request and response message types without any naming convention:
//
//	"cln.Node/Getinfo"  → exact
//	"Getinfo"           → unique short name
//	"getinfo"           → case-insensitive short name, if still unique
package schema

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

var (
	ErrUnknownMethod  = errors.New("schema: unknown method")
	ErrAmbiguousName  = errors.New("schema: ambiguous method name")
	ErrUnknownMessage = errors.New("schema: unknown message")
)

// DefaultAmountTypes are message types rendered as a plain millisatoshi integer.
var DefaultAmountTypes = []protoreflect.FullName{"cln.Amount"}

// Method describes one RPC method.
type Method struct {
	Service         protoreflect.FullName // e.g. "cln.Node"
	Name            protoreflect.Name     // e.g. "Getinfo"
	Input           protoreflect.MessageDescriptor
	Output          protoreflect.MessageDescriptor
	ServerStreaming bool
}

// FullName returns "pkg.Service/Method".
func (m *Method) FullName() string {
	return string(m.Service) + "/" + string(m.Name)
}

// Path returns the HTTP path the method is served on.
func (m *Method) Path() string {
	return "/" + m.FullName()
}

// Registry indexes the methods and messages of a set of proto files.
type Registry struct {
	files   *protoregistry.Files
	methods map[string]*Method   // by full name
	short   map[string][]*Method // by short name
	folded  map[string][]*Method // by lower-cased short name
	amounts map[protoreflect.FullName]bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithAmountTypes replaces the set of message types treated as msat amounts.
func WithAmountTypes(names ...protoreflect.FullName) Option {
	return func(r *Registry) {
		r.amounts = make(map[protoreflect.FullName]bool, len(names))
		for _, n := range names {
			r.amounts[n] = true
		}
	}
}

// New indexes every service found in files.
func New(files *protoregistry.Files, opts ...Option) *Registry {
	r := &Registry{
		files:   files,
		methods: make(map[string]*Method),
		short:   make(map[string][]*Method),
		folded:  make(map[string][]*Method),
	}
	WithAmountTypes(DefaultAmountTypes...)(r)
	for _, opt := range opts {
		opt(r)
	}

	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		services := fd.Services()
		for i := 0; i < services.Len(); i++ {
			r.addService(services.Get(i))
		}
		return true
	})
	return r
}

func (r *Registry) addService(sd protoreflect.ServiceDescriptor) {
	methods := sd.Methods()
	for i := 0; i < methods.Len(); i++ {
		md := methods.Get(i)
		m := &Method{
			Service:         sd.FullName(),
			Name:            md.Name(),
			Input:           md.Input(),
			Output:          md.Output(),
			ServerStreaming: md.IsStreamingServer(),
		}
		r.methods[m.FullName()] = m
		r.short[string(m.Name)] = append(r.short[string(m.Name)], m)
		key := strings.ToLower(string(m.Name))
		r.folded[key] = append(r.folded[key], m)
	}
}

// FromFileDescriptors builds a registry from file descriptors given in
// dependency order.
func FromFileDescriptors(fds []*descriptorpb.FileDescriptorProto, opts ...Option) (*Registry, error) {
	files := new(protoregistry.Files)
	for _, fdp := range fds {
		fd, err := protodesc.NewFile(fdp, files)
		if err != nil {
			return nil, fmt.Errorf("schema: build %s: %w", fdp.GetName(), err)
		}
		if err := files.RegisterFile(fd); err != nil {
			return nil, fmt.Errorf("schema: register %s: %w", fdp.GetName(), err)
		}
	}
	return New(files, opts...), nil
}

// FromDescriptorSet builds a registry from a serialized FileDescriptorSet.
func FromDescriptorSet(data []byte, opts ...Option) (*Registry, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("schema: parse descriptor set: %w", err)
	}
	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("schema: build descriptor set: %w", err)
	}
	return New(files, opts...), nil
}

// Load reads a FileDescriptorSet from path (e.g. `protoc --include_imports -o node.pb`).
func Load(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return FromDescriptorSet(data, opts...)
}

// Lookup resolves a method by full name, unique short name or unique
// case-insensitive short name.
func (r *Registry) Lookup(name string) (*Method, error) {
	name = strings.TrimPrefix(name, "/")
	if m, ok := r.methods[name]; ok {
		return m, nil
	}
	if ms := r.short[name]; len(ms) == 1 {
		return ms[0], nil
	} else if len(ms) > 1 {
		return nil, fmt.Errorf("%w: %q matches %d services", ErrAmbiguousName, name, len(ms))
	}
	if ms := r.folded[strings.ToLower(name)]; len(ms) == 1 {
		return ms[0], nil
	} else if len(ms) > 1 {
		return nil, fmt.Errorf("%w: %q matches %d methods", ErrAmbiguousName, name, len(ms))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// Message finds a message descriptor by full name.
func (r *Registry) Message(name protoreflect.FullName) (protoreflect.MessageDescriptor, error) {
	d, err := r.files.FindDescriptorByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a message", ErrUnknownMessage, name)
	}
	return md, nil
}

// Methods returns every indexed method ordered by full name.
func (r *Registry) Methods() []*Method {
	out := make([]*Method, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// IsAmount reports whether md is rendered as a millisatoshi integer. That is
// the case for the configured amount types and for any message whose only
// field is a 64-bit integer named "msat".
func (r *Registry) IsAmount(md protoreflect.MessageDescriptor) bool {
	if r.amounts[md.FullName()] {
		return true
	}
	return MsatField(md) != nil && md.Fields().Len() == 1
}

// MsatField returns the "msat" field of md, or nil.
func MsatField(md protoreflect.MessageDescriptor) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName("msat")
	if fd == nil || fd.IsList() || fd.IsMap() {
		return nil
	}
	switch fd.Kind() {
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return fd
	}
	return nil
}
