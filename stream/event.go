package stream

import (
	"fmt"
	"sort"

	"glweb/codec"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Kind identifies the variant of a NodeEvent.
type Kind int

const (
	// KindUnrecognized is an event whose tag this client does not know.
	// It is delivered, never dropped.
	KindUnrecognized Kind = iota
	KindInvoicePaid
)

func (k Kind) String() string {
	switch k {
	case KindInvoicePaid:
		return "invoice_paid"
	default:
		return "unrecognized"
	}
}

const (
	TagInvoicePaid = "invoice_paid"
	// UnknownTag is used when an event carries no populated variant we can name.
	UnknownTag = "unknown"
)

// InvoicePaidEvent reports a settled invoice.
type InvoicePaidEvent struct {
	PaymentHash string // hex
	Bolt11      string
	Preimage    string // hex
	Label       string
	AmountMsat  uint64
}

// NodeEvent is one event pushed by the node.
type NodeEvent struct {
	Kind Kind
	// Tag is the name of the populated variant, "unknown_<n>" for a variant
	// only present as unknown field n, or "unknown".
	Tag         string
	InvoicePaid *InvoicePaidEvent // set for KindInvoicePaid
	Fields      map[string]any    // the normalized event
}

// Classify maps a normalized event onto a variant. It never fails: anything
// it cannot name becomes KindUnrecognized.
func Classify(fields map[string]any) NodeEvent {
	ev := NodeEvent{Kind: KindUnrecognized, Tag: UnknownTag, Fields: fields}

	if paid, ok := fields[TagInvoicePaid].(map[string]any); ok {
		ev.Kind = KindInvoicePaid
		ev.Tag = TagInvoicePaid
		ev.InvoicePaid = &InvoicePaidEvent{
			PaymentHash: str(paid["payment_hash"]),
			Bolt11:      str(paid["bolt11"]),
			Preimage:    str(paid["preimage"]),
			Label:       str(paid["label"]),
			AmountMsat:  msat(paid["amount_msat"]),
		}
		return ev
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if _, ok := v.(map[string]any); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		ev.Tag = keys[0]
	}
	return ev
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func msat(v any) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		if x > 0 {
			return uint64(x)
		}
	case map[string]any:
		return msat(x["msat"])
	}
	return 0
}

// Decoder turns frame payloads into NodeEvents.
type Decoder struct {
	codec *codec.ProtoCodec
	md    protoreflect.MessageDescriptor
}

// NewDecoder decodes payloads as md, normally greenlight.NodeEvent.
func NewDecoder(c *codec.ProtoCodec, md protoreflect.MessageDescriptor) *Decoder {
	return &Decoder{codec: c, md: md}
}

// Decode parses and classifies one event.
func (d *Decoder) Decode(payload []byte) (*NodeEvent, error) {
	msg, err := d.codec.Unmarshal(d.md, payload)
	if err != nil {
		return nil, &codec.DecodeError{Method: string(d.md.FullName()), Err: err}
	}
	ev := Classify(d.codec.Normalize(msg))
	if ev.Tag == UnknownTag {
		if num := firstUnknownField(msg.GetUnknown()); num > 0 {
			ev.Tag = fmt.Sprintf("%s_%d", UnknownTag, num)
		}
	}
	return &ev, nil
}

func firstUnknownField(raw protoreflect.RawFields) protowire.Number {
	if len(raw) == 0 {
		return 0
	}
	num, _, n := protowire.ConsumeTag(raw)
	if n < 0 {
		return 0
	}
	return num
}
