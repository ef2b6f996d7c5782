package codec

import (
	"encoding/hex"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Normalize converts a decoded message into a plain map.
//
// Every field of the message appears under its proto (snake_case) name with
// its default when unset, except oneof members, which appear only when
// populated. Values are normalized as follows:
//
//	signed integers   → int64
//	unsigned integers → uint64
//	float, double     → float64
//	enums             → value name (number as int64 if undefined)
//	bytes             → lower-case hex string
//	repeated          → []any (never nil)
//	maps              → map[string]any
//	unset messages    → nil
//	amount messages   → millisatoshi integer
//
// The transform is driven by the descriptor only: a string field that happens
// to hold hex is left alone.
func (c *ProtoCodec) Normalize(msg protoreflect.Message) map[string]any {
	md := msg.Descriptor()
	fields := md.Fields()
	out := make(map[string]any, fields.Len())

	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		name := string(fd.Name())

		if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() && !msg.Has(fd) {
			continue
		}

		switch {
		case fd.IsList():
			list := msg.Get(fd).List()
			items := make([]any, list.Len())
			for j := 0; j < list.Len(); j++ {
				items[j] = c.element(fd, list.Get(j))
			}
			out[name] = items

		case fd.IsMap():
			m := msg.Get(fd).Map()
			entries := make(map[string]any, m.Len())
			m.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
				entries[k.String()] = c.element(fd.MapValue(), v)
				return true
			})
			out[name] = entries

		case fd.Message() != nil:
			if !msg.Has(fd) {
				out[name] = nil
				continue
			}
			out[name] = c.element(fd, msg.Get(fd))

		default:
			out[name] = c.element(fd, msg.Get(fd))
		}
	}
	return out
}

func (c *ProtoCodec) element(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		m := v.Message()
		if c.reg != nil && c.reg.IsAmount(fd.Message()) {
			if amount, ok := c.amount(m); ok {
				return amount
			}
		}
		return c.Normalize(m)
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BytesKind:
		return hex.EncodeToString(v.Bytes())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int()
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint()
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.EnumKind:
		n := v.Enum()
		if ev := fd.Enum().Values().ByNumber(n); ev != nil {
			return string(ev.Name())
		}
		return int64(n)
	}
	return v.Interface()
}

// amount collapses an amount message to its msat value.
func (c *ProtoCodec) amount(m protoreflect.Message) (any, bool) {
	fd := m.Descriptor().Fields().ByName("msat")
	if fd == nil {
		return nil, false
	}
	v := m.Get(fd)
	switch fd.Kind() {
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint(), true
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int(), true
	}
	return nil, false
}
