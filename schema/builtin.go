package schema

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// The built-in schema covers the node methods glweb ships helpers for. The
// files are proto2 so that required fields can be checked before encoding.
// Field numbers follow the node's published proto files.

type fieldType struct {
	typ      descriptorpb.FieldDescriptorProto_Type
	typeName string
}

var (
	tString = fieldType{typ: descriptorpb.FieldDescriptorProto_TYPE_STRING}
	tBytes  = fieldType{typ: descriptorpb.FieldDescriptorProto_TYPE_BYTES}
	tBool   = fieldType{typ: descriptorpb.FieldDescriptorProto_TYPE_BOOL}
	tUint32 = fieldType{typ: descriptorpb.FieldDescriptorProto_TYPE_UINT32}
	tUint64 = fieldType{typ: descriptorpb.FieldDescriptorProto_TYPE_UINT64}
)

func msgType(fullName string) fieldType {
	return fieldType{typ: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName: "." + fullName}
}

func enumType(fullName string) fieldType {
	return fieldType{typ: descriptorpb.FieldDescriptorProto_TYPE_ENUM, typeName: "." + fullName}
}

func field(label descriptorpb.FieldDescriptorProto_Label, name string, num int32, ft fieldType) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  label.Enum(),
		Type:   ft.typ.Enum(),
	}
	if ft.typeName != "" {
		f.TypeName = proto.String(ft.typeName)
	}
	return f
}

func required(name string, num int32, ft fieldType) *descriptorpb.FieldDescriptorProto {
	return field(descriptorpb.FieldDescriptorProto_LABEL_REQUIRED, name, num, ft)
}

func optional(name string, num int32, ft fieldType) *descriptorpb.FieldDescriptorProto {
	return field(descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, name, num, ft)
}

func repeated(name string, num int32, ft fieldType) *descriptorpb.FieldDescriptorProto {
	return field(descriptorpb.FieldDescriptorProto_LABEL_REPEATED, name, num, ft)
}

// oneof puts fields into a oneof at index idx of the enclosing message.
func oneof(idx int32, fields ...*descriptorpb.FieldDescriptorProto) []*descriptorpb.FieldDescriptorProto {
	for _, f := range fields {
		f.OneofIndex = proto.Int32(idx)
	}
	return fields
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func messageWithOneof(name, oneofName string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	m := message(name, fields...)
	m.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String(oneofName)}}
	return m
}

func enum(name string, values ...string) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for i, v := range values {
		if v == "" {
			continue // gap in numbering
		}
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v),
			Number: proto.Int32(int32(i)),
		})
	}
	return e
}

func rpc(name, in, out string, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	m := &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + in),
		OutputType: proto.String("." + out),
	}
	if serverStreaming {
		m.ServerStreaming = proto.Bool(true)
	}
	return m
}

func service(name string, methods ...*descriptorpb.MethodDescriptorProto) *descriptorpb.ServiceDescriptorProto {
	return &descriptorpb.ServiceDescriptorProto{Name: proto.String(name), Method: methods}
}

func file(name, pkg string, deps ...string) *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(name),
		Package:    proto.String(pkg),
		Syntax:     proto.String("proto2"),
		Dependency: deps,
	}
}

func primitivesFile() *descriptorpb.FileDescriptorProto {
	fd := file("primitives.proto", "cln")
	fd.MessageType = []*descriptorpb.DescriptorProto{
		message("Amount", required("msat", 1, tUint64)),
		messageWithOneof("AmountOrAny", "value",
			oneof(0,
				optional("amount", 1, msgType("cln.Amount")),
				optional("any", 2, tBool),
			)...),
	}
	return fd
}

func nodeFile() *descriptorpb.FileDescriptorProto {
	fd := file("node.proto", "cln", "primitives.proto")
	fd.EnumType = []*descriptorpb.EnumDescriptorProto{
		enum("NewaddrAddresstype", "BECH32", "", "ALL", "P2TR"),
		enum("ListinvoicesInvoicesStatus", "UNPAID", "PAID", "EXPIRED"),
		enum("FeeratesStyle", "PERKB", "PERKW"),
	}
	fd.MessageType = []*descriptorpb.DescriptorProto{
		message("GetinfoRequest"),
		message("GetinfoAddress",
			optional("item_type", 1, tString),
			optional("port", 2, tUint32),
			optional("address", 3, tString),
		),
		message("GetinfoResponse",
			required("id", 1, tBytes),
			optional("alias", 2, tString),
			required("color", 3, tBytes),
			required("num_peers", 4, tUint32),
			required("num_pending_channels", 5, tUint32),
			required("num_active_channels", 6, tUint32),
			required("num_inactive_channels", 7, tUint32),
			required("version", 8, tString),
			required("lightning_dir", 9, tString),
			required("blockheight", 12, tUint32),
			required("network", 13, tString),
			required("fees_collected_msat", 14, msgType("cln.Amount")),
			repeated("address", 15, msgType("cln.GetinfoAddress")),
		),
		message("NewaddrRequest",
			optional("addresstype", 1, enumType("cln.NewaddrAddresstype")),
		),
		message("NewaddrResponse",
			optional("bech32", 1, tString),
			optional("p2tr", 3, tString),
		),
		message("InvoiceRequest",
			required("description", 2, tString),
			required("label", 3, tString),
			repeated("fallbacks", 4, tString),
			optional("preimage", 5, tBytes),
			optional("cltv", 6, tUint32),
			optional("expiry", 7, tUint64),
			optional("deschashonly", 9, tBool),
			required("amount_msat", 10, msgType("cln.AmountOrAny")),
		),
		message("InvoiceResponse",
			required("bolt11", 1, tString),
			required("payment_hash", 2, tBytes),
			required("payment_secret", 3, tBytes),
			required("expires_at", 4, tUint64),
			optional("warning_capacity", 5, tString),
			optional("warning_offline", 6, tString),
			optional("created_index", 10, tUint64),
		),
		message("ListinvoicesRequest",
			optional("label", 1, tString),
			optional("invstring", 2, tString),
			optional("payment_hash", 3, tBytes),
			optional("offer_id", 4, tString),
		),
		message("ListinvoicesInvoices",
			required("label", 1, tString),
			optional("description", 2, tString),
			required("payment_hash", 3, tBytes),
			required("status", 4, enumType("cln.ListinvoicesInvoicesStatus")),
			required("expires_at", 5, tUint64),
			optional("amount_msat", 6, msgType("cln.Amount")),
			optional("bolt11", 7, tString),
			optional("pay_index", 9, tUint64),
			optional("amount_received_msat", 10, msgType("cln.Amount")),
			optional("paid_at", 11, tUint64),
			optional("payment_preimage", 12, tBytes),
		),
		message("ListinvoicesResponse",
			repeated("invoices", 1, msgType("cln.ListinvoicesInvoices")),
		),
		message("FeeratesRequest",
			required("style", 1, enumType("cln.FeeratesStyle")),
		),
		message("FeeratesPerkw",
			required("min_acceptable", 1, tUint32),
			required("max_acceptable", 2, tUint32),
			optional("opening", 3, tUint32),
			optional("mutual_close", 4, tUint32),
			optional("unilateral_close", 5, tUint32),
			optional("floor", 10, tUint32),
		),
		message("FeeratesResponse",
			optional("warning_missing_feerates", 1, tString),
			optional("perkw", 3, msgType("cln.FeeratesPerkw")),
		),
	}
	fd.Service = []*descriptorpb.ServiceDescriptorProto{
		service("Node",
			rpc("Getinfo", "cln.GetinfoRequest", "cln.GetinfoResponse", false),
			rpc("NewAddr", "cln.NewaddrRequest", "cln.NewaddrResponse", false),
			rpc("Invoice", "cln.InvoiceRequest", "cln.InvoiceResponse", false),
			rpc("ListInvoices", "cln.ListinvoicesRequest", "cln.ListinvoicesResponse", false),
			rpc("Feerates", "cln.FeeratesRequest", "cln.FeeratesResponse", false),
		),
	}
	return fd
}

func greenlightFile() *descriptorpb.FileDescriptorProto {
	fd := file("greenlight.proto", "greenlight", "primitives.proto")
	fd.MessageType = []*descriptorpb.DescriptorProto{
		message("NodeEventsRequest"),
		message("InvoicePaid",
			required("payment_hash", 1, tBytes),
			required("bolt11", 2, tString),
			required("preimage", 3, tBytes),
			required("label", 4, tString),
			required("amount_msat", 5, msgType("cln.Amount")),
		),
		messageWithOneof("NodeEvent", "event",
			oneof(0,
				optional("invoice_paid", 1, msgType("greenlight.InvoicePaid")),
			)...),
	}
	fd.Service = []*descriptorpb.ServiceDescriptorProto{
		service("Node",
			rpc("StreamNodeEvents", "greenlight.NodeEventsRequest", "greenlight.NodeEvent", true),
		),
	}
	return fd
}

func schedulerFile() *descriptorpb.FileDescriptorProto {
	fd := file("scheduler.proto", "scheduler")
	fd.MessageType = []*descriptorpb.DescriptorProto{
		message("NodeInfoRequest",
			required("node_id", 1, tBytes),
			optional("wait", 2, tBool),
		),
		message("NodeInfoResponse",
			required("node_id", 1, tBytes),
			required("grpc_uri", 2, tString),
			optional("session_id", 3, tUint64),
		),
	}
	fd.Service = []*descriptorpb.ServiceDescriptorProto{
		service("Scheduler",
			rpc("GetNodeInfo", "scheduler.NodeInfoRequest", "scheduler.NodeInfoResponse", false),
		),
	}
	return fd
}

// BuiltinFiles returns the built-in file descriptors in dependency order.
func BuiltinFiles() []*descriptorpb.FileDescriptorProto {
	return []*descriptorpb.FileDescriptorProto{
		primitivesFile(),
		nodeFile(),
		greenlightFile(),
		schedulerFile(),
	}
}

// Default returns a new registry over the built-in descriptors.
func Default(opts ...Option) *Registry {
	r, err := FromFileDescriptors(BuiltinFiles(), opts...)
	if err != nil {
		panic(err) // built-in descriptors are static
	}
	return r
}
