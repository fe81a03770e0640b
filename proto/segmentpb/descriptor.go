package segmentpb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// FileName is the path the service's file descriptor is registered under.
const FileName = "volseg/v1/segment.proto"

// File describes the messages and service of this package. It is registered
// in protoregistry.GlobalFiles so server reflection can list and describe
// the service. Calls still travel through the json codec.
var File protoreflect.FileDescriptor

func init() {
	fd, err := protodesc.NewFile(fileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("segmentpb: build %s: %v", FileName, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("segmentpb: register %s: %v", FileName, err))
	}
	File = fd
}

const pkg = "volseg.v1"

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	typeBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeated(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, typ)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func ofMessage(f *descriptorpb.FieldDescriptorProto, message string) *descriptorpb.FieldDescriptorProto {
	f.TypeName = proto.String("." + pkg + "." + message)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func method(name, in, out string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + pkg + "." + in),
		OutputType: proto.String("." + pkg + "." + out),
	}
}

// fileProto mirrors the json tags of the structs in segment.go.
func fileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(FileName),
		Package: proto.String(pkg),
		Syntax:  proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/SyedDaiam9101/volseg-service/proto/segmentpb"),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Volume",
				field("depth", 1, typeInt32),
				field("height", 2, typeInt32),
				field("width", 3, typeInt32),
				repeated("data", 4, typeDouble),
			),
			message("SegmentRequest",
				field("volume_id", 1, typeString),
				ofMessage(field("volume", 2, typeMessage), "Volume"),
				field("conformed", 3, typeBool),
				field("reference", 4, typeBytes),
			),
			message("SegmentResponse",
				field("run_id", 1, typeString),
				field("volume_id", 2, typeString),
				field("depth", 3, typeInt32),
				field("height", 4, typeInt32),
				field("width", 5, typeInt32),
				field("labels", 6, typeBytes),
				repeated("label_counts", 7, typeInt64),
				repeated("degenerate_slices", 8, typeInt32),
				field("cached", 9, typeBool),
				field("inference_ms", 10, typeDouble),
				repeated("dice", 11, typeDouble),
				repeated("jaccard", 12, typeDouble),
			),
			message("BatchSegmentRequest",
				ofMessage(repeated("requests", 1, typeMessage), "SegmentRequest"),
			),
			message("BatchSegmentResponse",
				ofMessage(repeated("responses", 1, typeMessage), "SegmentResponse"),
			),
			message("GetRunRequest",
				field("run_id", 1, typeString),
			),
			message("ListRunsRequest",
				field("limit", 1, typeInt32),
			),
			message("Run",
				field("run_id", 1, typeString),
				field("volume_id", 2, typeString),
				field("depth", 3, typeInt32),
				field("height", 4, typeInt32),
				field("width", 5, typeInt32),
				field("patch_size", 6, typeInt32),
				field("conformed", 7, typeBool),
				repeated("label_counts", 8, typeInt64),
				field("degenerate_slices", 9, typeInt32),
				field("cached", 10, typeBool),
				field("duration_ms", 11, typeDouble),
				field("created_at_unix_ms", 12, typeInt64),
			),
			message("ListRunsResponse",
				ofMessage(repeated("runs", 1, typeMessage), "Run"),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Segmentation"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("Segment", "SegmentRequest", "SegmentResponse"),
				method("BatchSegment", "BatchSegmentRequest", "BatchSegmentResponse"),
				method("GetRun", "GetRunRequest", "Run"),
				method("ListRuns", "ListRunsRequest", "ListRunsResponse"),
			},
		}},
	}
}
