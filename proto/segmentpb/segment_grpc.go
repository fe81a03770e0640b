package segmentpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	Segmentation_Segment_FullMethodName      = "/volseg.v1.Segmentation/Segment"
	Segmentation_BatchSegment_FullMethodName = "/volseg.v1.Segmentation/BatchSegment"
	Segmentation_GetRun_FullMethodName       = "/volseg.v1.Segmentation/GetRun"
	Segmentation_ListRuns_FullMethodName     = "/volseg.v1.Segmentation/ListRuns"
)

// SegmentationClient is the client API for the Segmentation service.
type SegmentationClient interface {
	Segment(ctx context.Context, in *SegmentRequest, opts ...grpc.CallOption) (*SegmentResponse, error)
	BatchSegment(ctx context.Context, in *BatchSegmentRequest, opts ...grpc.CallOption) (*BatchSegmentResponse, error)
	GetRun(ctx context.Context, in *GetRunRequest, opts ...grpc.CallOption) (*Run, error)
	ListRuns(ctx context.Context, in *ListRunsRequest, opts ...grpc.CallOption) (*ListRunsResponse, error)
}

type segmentationClient struct {
	cc grpc.ClientConnInterface
}

func NewSegmentationClient(cc grpc.ClientConnInterface) SegmentationClient {
	return &segmentationClient{cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *segmentationClient) Segment(ctx context.Context, in *SegmentRequest, opts ...grpc.CallOption) (*SegmentResponse, error) {
	out := new(SegmentResponse)
	if err := c.cc.Invoke(ctx, Segmentation_Segment_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *segmentationClient) BatchSegment(ctx context.Context, in *BatchSegmentRequest, opts ...grpc.CallOption) (*BatchSegmentResponse, error) {
	out := new(BatchSegmentResponse)
	if err := c.cc.Invoke(ctx, Segmentation_BatchSegment_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *segmentationClient) GetRun(ctx context.Context, in *GetRunRequest, opts ...grpc.CallOption) (*Run, error) {
	out := new(Run)
	if err := c.cc.Invoke(ctx, Segmentation_GetRun_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *segmentationClient) ListRuns(ctx context.Context, in *ListRunsRequest, opts ...grpc.CallOption) (*ListRunsResponse, error) {
	out := new(ListRunsResponse)
	if err := c.cc.Invoke(ctx, Segmentation_ListRuns_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// SegmentationServer is the server API for the Segmentation service.
type SegmentationServer interface {
	Segment(context.Context, *SegmentRequest) (*SegmentResponse, error)
	BatchSegment(context.Context, *BatchSegmentRequest) (*BatchSegmentResponse, error)
	GetRun(context.Context, *GetRunRequest) (*Run, error)
	ListRuns(context.Context, *ListRunsRequest) (*ListRunsResponse, error)
}

// UnimplementedSegmentationServer can be embedded for forward compatibility.
type UnimplementedSegmentationServer struct{}

func (UnimplementedSegmentationServer) Segment(context.Context, *SegmentRequest) (*SegmentResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Segment not implemented")
}

func (UnimplementedSegmentationServer) BatchSegment(context.Context, *BatchSegmentRequest) (*BatchSegmentResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method BatchSegment not implemented")
}

func (UnimplementedSegmentationServer) GetRun(context.Context, *GetRunRequest) (*Run, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetRun not implemented")
}

func (UnimplementedSegmentationServer) ListRuns(context.Context, *ListRunsRequest) (*ListRunsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListRuns not implemented")
}

func RegisterSegmentationServer(s grpc.ServiceRegistrar, srv SegmentationServer) {
	s.RegisterService(&Segmentation_ServiceDesc, srv)
}

func _Segmentation_Segment_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SegmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SegmentationServer).Segment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Segmentation_Segment_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SegmentationServer).Segment(ctx, req.(*SegmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Segmentation_BatchSegment_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BatchSegmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SegmentationServer).BatchSegment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Segmentation_BatchSegment_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SegmentationServer).BatchSegment(ctx, req.(*BatchSegmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Segmentation_GetRun_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SegmentationServer).GetRun(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Segmentation_GetRun_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SegmentationServer).GetRun(ctx, req.(*GetRunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Segmentation_ListRuns_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListRunsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SegmentationServer).ListRuns(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Segmentation_ListRuns_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SegmentationServer).ListRuns(ctx, req.(*ListRunsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Segmentation_ServiceDesc is the grpc.ServiceDesc for the Segmentation service.
var Segmentation_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "volseg.v1.Segmentation",
	HandlerType: (*SegmentationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Segment", Handler: _Segmentation_Segment_Handler},
		{MethodName: "BatchSegment", Handler: _Segmentation_BatchSegment_Handler},
		{MethodName: "GetRun", Handler: _Segmentation_GetRun_Handler},
		{MethodName: "ListRuns", Handler: _Segmentation_ListRuns_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: FileName,
}
