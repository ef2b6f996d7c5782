package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"glweb/schema"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// builder walks a payload alongside a message descriptor.
//
// Keys are visited in sorted order and required fields are checked afterwards
// in descriptor order, so the first reported problem is deterministic.
type builder struct {
	reg *schema.Registry
}

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func (b builder) message(md protoreflect.MessageDescriptor, obj map[string]any, path string) (*dynamicpb.Message, *ValidationError) {
	msg := dynamicpb.NewMessage(md)
	fields := md.Fields()

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	oneofs := make(map[protoreflect.FullName]string)
	for _, k := range keys {
		fd := fields.ByName(protoreflect.Name(k))
		if fd == nil {
			fd = fields.ByJSONName(k)
		}
		fpath := join(path, k)
		if fd == nil {
			return nil, invalid(fpath, "unknown field")
		}
		v := obj[k]
		if v == nil {
			continue
		}
		if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
			if prev, ok := oneofs[od.FullName()]; ok {
				return nil, invalid(join(path, string(od.Name())), "both %s and %s set", prev, k)
			}
			oneofs[od.FullName()] = k
		}

		switch {
		case fd.IsMap():
			if err := b.setMap(msg, fd, v, fpath); err != nil {
				return nil, err
			}
		case fd.IsList():
			if err := b.setList(msg, fd, v, fpath); err != nil {
				return nil, err
			}
		default:
			val, err := b.value(fd, v, fpath)
			if err != nil {
				return nil, err
			}
			msg.Set(fd, val)
		}
	}

	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Cardinality() == protoreflect.Required && !msg.Has(fd) {
			return nil, invalid(join(path, string(fd.Name())), "missing required field")
		}
	}
	return msg, nil
}

func (b builder) setList(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, v any, path string) *ValidationError {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return invalid(path, "expected a list, got %T", v)
	}
	if _, isBytes := v.([]byte); isBytes {
		return invalid(path, "expected a list, got bytes")
	}
	list := msg.Mutable(fd).List()
	for i := 0; i < rv.Len(); i++ {
		val, err := b.value(fd, rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return err
		}
		list.Append(val)
	}
	return nil
}

func (b builder) setMap(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, v any, path string) *ValidationError {
	obj, ok := v.(map[string]any)
	if !ok {
		return invalid(path, "expected an object, got %T", v)
	}
	m := msg.Mutable(fd).Map()
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kpath := fmt.Sprintf("%s[%s]", path, k)
		key, err := b.scalar(fd.MapKey(), k, kpath)
		if err != nil {
			return err
		}
		val, err := b.value(fd.MapValue(), obj[k], kpath)
		if err != nil {
			return err
		}
		m.Set(key.MapKey(), val)
	}
	return nil
}

// value converts a single (non-list) element for fd.
func (b builder) value(fd protoreflect.FieldDescriptor, v any, path string) (protoreflect.Value, *ValidationError) {
	if fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind {
		return b.messageValue(fd.Message(), v, path)
	}
	return b.scalar(fd, v, path)
}

func (b builder) messageValue(md protoreflect.MessageDescriptor, v any, path string) (protoreflect.Value, *ValidationError) {
	if obj, ok := v.(map[string]any); ok {
		m, err := b.message(md, obj, path)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfMessage(m), nil
	}
	// amounts may be given as a bare millisatoshi integer
	if b.reg != nil && b.reg.IsAmount(md) {
		if msat := schema.MsatField(md); msat != nil {
			val, err := b.scalar(msat, v, join(path, "msat"))
			if err != nil {
				return protoreflect.Value{}, err
			}
			m := dynamicpb.NewMessage(md)
			m.Set(msat, val)
			return protoreflect.ValueOfMessage(m), nil
		}
	}
	return protoreflect.Value{}, invalid(path, "expected an object, got %T", v)
}

func (b builder) scalar(fd protoreflect.FieldDescriptor, v any, path string) (protoreflect.Value, *ValidationError) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		if x, ok := v.(bool); ok {
			return protoreflect.ValueOfBool(x), nil
		}
		return protoreflect.Value{}, invalid(path, "expected a bool, got %T", v)

	case protoreflect.StringKind:
		if x, ok := v.(string); ok {
			return protoreflect.ValueOfString(x), nil
		}
		return protoreflect.Value{}, invalid(path, "expected a string, got %T", v)

	case protoreflect.BytesKind:
		switch x := v.(type) {
		case []byte:
			return protoreflect.ValueOfBytes(x), nil
		case string:
			raw, err := hex.DecodeString(x)
			if err != nil {
				return protoreflect.Value{}, invalid(path, "invalid hex: %v", err)
			}
			return protoreflect.ValueOfBytes(raw), nil
		}
		return protoreflect.Value{}, invalid(path, "expected bytes or a hex string, got %T", v)

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, invalid(path, "%v", err)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return protoreflect.Value{}, invalid(path, "%d overflows int32", n)
		}
		return protoreflect.ValueOfInt32(int32(n)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, invalid(path, "%v", err)
		}
		return protoreflect.ValueOfInt64(n), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := toUint64(v)
		if err != nil {
			return protoreflect.Value{}, invalid(path, "%v", err)
		}
		if n > math.MaxUint32 {
			return protoreflect.Value{}, invalid(path, "%d overflows uint32", n)
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := toUint64(v)
		if err != nil {
			return protoreflect.Value{}, invalid(path, "%v", err)
		}
		return protoreflect.ValueOfUint64(n), nil

	case protoreflect.FloatKind, protoreflect.DoubleKind:
		f, err := toFloat64(v)
		if err != nil {
			return protoreflect.Value{}, invalid(path, "%v", err)
		}
		if fd.Kind() == protoreflect.FloatKind {
			return protoreflect.ValueOfFloat32(float32(f)), nil
		}
		return protoreflect.ValueOfFloat64(f), nil

	case protoreflect.EnumKind:
		values := fd.Enum().Values()
		if name, ok := v.(string); ok {
			if ev := values.ByName(protoreflect.Name(name)); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number()), nil
			}
			if _, err := strconv.ParseInt(name, 10, 32); err != nil {
				return protoreflect.Value{}, invalid(path, "unknown %s value %q", fd.Enum().Name(), name)
			}
		}
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, invalid(path, "%v", err)
		}
		if n < math.MinInt32 || n > math.MaxInt32 || values.ByNumber(protoreflect.EnumNumber(n)) == nil {
			return protoreflect.Value{}, invalid(path, "unknown %s value %d", fd.Enum().Name(), n)
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), nil
	}
	return protoreflect.Value{}, invalid(path, "unsupported field kind %s", fd.Kind())
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint, uint8, uint16, uint32, uint64:
		u, _ := toUint64(x)
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case json.Number:
		return strconv.ParseUint(string(x), 10, 64)
	case string:
		n, err := strconv.ParseUint(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an unsigned integer, got %q", x)
		}
		return n, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return uint64(n), nil
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("expected an integer, got %v", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q", x)
		}
		return f, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	return float64(n), nil
}
