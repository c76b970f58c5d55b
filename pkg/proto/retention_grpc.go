// Package proto declares the RetentionLeaseService gRPC contract. Payloads
// are well-known wrapper types; the lease collection travels as the bytes
// produced by the persistence codec.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	RetentionLeaseServiceName = "pairdb.retention.v1.RetentionLeaseService"

	RetentionLeaseService_Sync_FullMethodName  = "/" + RetentionLeaseServiceName + "/Sync"
	RetentionLeaseService_Fetch_FullMethodName = "/" + RetentionLeaseServiceName + "/Fetch"
)

// RetentionLeaseServiceClient is the client API for RetentionLeaseService
type RetentionLeaseServiceClient interface {
	// Sync pushes the primary's encoded collection to a replica
	Sync(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	// Fetch returns the node's current encoded collection
	Fetch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type retentionLeaseServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRetentionLeaseServiceClient(cc grpc.ClientConnInterface) RetentionLeaseServiceClient {
	return &retentionLeaseServiceClient{cc}
}

func (c *retentionLeaseServiceClient) Sync(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, RetentionLeaseService_Sync_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *retentionLeaseServiceClient) Fetch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, RetentionLeaseService_Fetch_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RetentionLeaseServiceServer is the server API for RetentionLeaseService
type RetentionLeaseServiceServer interface {
	Sync(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Fetch(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

func RegisterRetentionLeaseServiceServer(s grpc.ServiceRegistrar, srv RetentionLeaseServiceServer) {
	s.RegisterService(&RetentionLeaseService_ServiceDesc, srv)
}

func _RetentionLeaseService_Sync_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RetentionLeaseServiceServer).Sync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RetentionLeaseService_Sync_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RetentionLeaseServiceServer).Sync(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _RetentionLeaseService_Fetch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RetentionLeaseServiceServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RetentionLeaseService_Fetch_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RetentionLeaseServiceServer).Fetch(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RetentionLeaseService_ServiceDesc is the grpc.ServiceDesc for RetentionLeaseService
var RetentionLeaseService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: RetentionLeaseServiceName,
	HandlerType: (*RetentionLeaseServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Sync",
			Handler:    _RetentionLeaseService_Sync_Handler,
		},
		{
			MethodName: "Fetch",
			Handler:    _RetentionLeaseService_Fetch_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "retention.proto",
}
