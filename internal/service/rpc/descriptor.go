package rpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Descriptors for api/proto/task.proto. descriptor_test.go parses the
// .proto file and fails when the two disagree.
var (
	taskFile      protoreflect.FileDescriptor
	proxyInfoDesc protoreflect.MessageDescriptor
	taskDesc      protoreflect.MessageDescriptor
	responseDesc  protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(taskFileProto(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("rpc: invalid task.proto descriptor: %v", err))
	}
	taskFile = fd
	proxyInfoDesc = fd.Messages().ByName("ProxyInfo")
	taskDesc = fd.Messages().ByName("TaskMessage")
	responseDesc = fd.Messages().ByName("ResponseMessage")
}

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	tString = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes  = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tBool   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tInt32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tInt64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tDouble = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tEnum   = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	tMsg    = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, num int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func typedField(name string, num int32, typ fieldType, typeName string) *descriptorpb.FieldDescriptorProto {
	f := field(name, num, typ)
	f.TypeName = proto.String(".ipclick." + typeName)
	return f
}

// oneofField puts f in oneof_decl[idx]. Synthetic oneofs of proto3
// optional fields also go through here.
func oneofField(f *descriptorpb.FieldDescriptorProto, idx int32, synthetic bool) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(idx)
	if synthetic {
		f.Proto3Optional = proto.Bool(true)
	}
	return f
}

func repeatedField(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

// mapField declares map<string, string> name = num; entry is the nested
// entry message that protoc would synthesize.
func mapField(owner, name string, num int32, entry string) *descriptorpb.FieldDescriptorProto {
	return repeatedField(typedField(name, num, tMsg, owner+"."+entry))
}

func mapEntry(name string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			field("key", 1, tString),
			field("value", 2, tString),
		},
		Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
	}
}

func oneof(name string) *descriptorpb.OneofDescriptorProto {
	return &descriptorpb.OneofDescriptorProto{Name: proto.String(name)}
}

func enum(name string, values ...string) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for i, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v),
			Number: proto.Int32(int32(i)),
		})
	}
	return e
}

func taskFileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("api/proto/task.proto"),
		Package: proto.String("ipclick"),
		Syntax:  proto.String("proto3"),
		Options: &descriptorpb.FileOptions{GoPackage: proto.String("ipclick/internal/service/rpc")},
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enum("Adapter", "FINGERPRINT", "PLAIN", "REQUESTS", "DRISSIONPAGE", "UNDETECTED_CHROME", "PLAYWRIGHT"),
			enum("Method", "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "TRACE"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ProxyInfo"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("scheme", 1, tString),
					field("host", 2, tString),
					field("port", 3, tInt32),
					field("auth_key", 4, tString),
					field("auth_secret", 5, tString),
					field("channel", 6, tString),
					field("session_ttl", 7, tInt32),
					field("country_code", 8, tString),
					field("tunnel_server", 9, tString),
				},
			},
			{
				Name: proto.String("TaskMessage"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("uuid", 1, tString),
					typedField("adapter", 2, tEnum, "Adapter"),
					typedField("method", 3, tEnum, "Method"),
					field("url", 4, tString),
					mapField("TaskMessage", "headers", 5, "HeadersEntry"),
					mapField("TaskMessage", "cookies", 6, "CookiesEntry"),
					field("params", 7, tString),
					field("data", 8, tBytes),
					field("json", 9, tString),
					oneofField(field("proxy_url", 10, tString), 0, false),
					oneofField(field("use_default_proxy", 11, tBool), 0, false),
					oneofField(typedField("proxy_info", 12, tMsg, "ProxyInfo"), 0, false),
					field("timeout_seconds", 13, tDouble),
					field("max_retries", 14, tInt32),
					oneofField(field("retry_backoff_seconds", 15, tDouble), 1, true),
					field("verify_ssl", 16, tBool),
					field("allow_redirects", 17, tBool),
					field("stream", 18, tBool),
					field("impersonate", 19, tString),
					mapField("TaskMessage", "extensions", 20, "ExtensionsEntry"),
					field("automation_config", 21, tString),
					field("automation_script", 22, tString),
					repeatedField(field("allowed_status_codes", 23, tInt32)),
					field("kwargs", 24, tString),
					oneofField(field("retry_backoff_max_seconds", 25, tDouble), 2, true),
				},
				NestedType: []*descriptorpb.DescriptorProto{
					mapEntry("HeadersEntry"),
					mapEntry("CookiesEntry"),
					mapEntry("ExtensionsEntry"),
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{
					oneof("proxy"),
					oneof("_retry_backoff_seconds"),
					oneof("_retry_backoff_max_seconds"),
				},
			},
			{
				Name: proto.String("ResponseMessage"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("request_uuid", 1, tString),
					typedField("adapter", 2, tEnum, "Adapter"),
					typedField("original_request", 3, tMsg, "TaskMessage"),
					field("effective_url", 4, tString),
					field("status_code", 5, tInt32),
					mapField("ResponseMessage", "response_headers", 6, "ResponseHeadersEntry"),
					field("content", 7, tBytes),
					field("error_message", 8, tString),
					field("response_time_ms", 9, tInt64),
					field("adapter_elapsed_ms", 10, tInt64),
				},
				NestedType: []*descriptorpb.DescriptorProto{
					mapEntry("ResponseHeadersEntry"),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("TaskService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("Send"),
						InputType:  proto.String(".ipclick.TaskMessage"),
						OutputType: proto.String(".ipclick.ResponseMessage"),
					},
				},
			},
		},
	}
}
