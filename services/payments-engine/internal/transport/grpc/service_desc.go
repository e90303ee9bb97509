package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	refundServiceName = "therapy.engine.v1.RefundService"
	payoutServiceName = "therapy.engine.v1.PayoutService"
)

type RefundServiceServer interface {
	Preview(context.Context, *PreviewRefundRequest) (*PreviewRefundResponse, error)
	Process(context.Context, *ProcessRefundRequest) (*ProcessRefundResponse, error)
}

type PayoutServiceServer interface {
	Process(context.Context, *ProcessPayoutRequest) (*ProcessPayoutResponse, error)
}

func RegisterRefundServiceServer(s grpc.ServiceRegistrar, srv RefundServiceServer) {
	s.RegisterService(&refundServiceDesc, srv)
}

func RegisterPayoutServiceServer(s grpc.ServiceRegistrar, srv PayoutServiceServer) {
	s.RegisterService(&payoutServiceDesc, srv)
}

// unary adapts a typed method to the grpc.MethodDesc handler shape. The
// result type is spelled out because grpc does not export it.
func unary[Req any, Resp any](fullMethod string, call func(srv any, ctx context.Context, in *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		})
	}
}

var refundServiceDesc = grpc.ServiceDesc{
	ServiceName: refundServiceName,
	HandlerType: (*RefundServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Preview",
			Handler: unary("/"+refundServiceName+"/Preview", func(srv any, ctx context.Context, in *PreviewRefundRequest) (*PreviewRefundResponse, error) {
				return srv.(RefundServiceServer).Preview(ctx, in)
			}),
		},
		{
			MethodName: "Process",
			Handler: unary("/"+refundServiceName+"/Process", func(srv any, ctx context.Context, in *ProcessRefundRequest) (*ProcessRefundResponse, error) {
				return srv.(RefundServiceServer).Process(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "engine/v1/engine.proto",
}

var payoutServiceDesc = grpc.ServiceDesc{
	ServiceName: payoutServiceName,
	HandlerType: (*PayoutServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Process",
			Handler: unary("/"+payoutServiceName+"/Process", func(srv any, ctx context.Context, in *ProcessPayoutRequest) (*ProcessPayoutResponse, error) {
				return srv.(PayoutServiceServer).Process(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "engine/v1/engine.proto",
}

// Client stubs.

type RefundServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRefundServiceClient(cc grpc.ClientConnInterface) *RefundServiceClient {
	return &RefundServiceClient{cc: cc}
}

func (c *RefundServiceClient) Preview(ctx context.Context, in *PreviewRefundRequest, opts ...grpc.CallOption) (*PreviewRefundResponse, error) {
	out := new(PreviewRefundResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+refundServiceName+"/Preview", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RefundServiceClient) Process(ctx context.Context, in *ProcessRefundRequest, opts ...grpc.CallOption) (*ProcessRefundResponse, error) {
	out := new(ProcessRefundResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+refundServiceName+"/Process", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type PayoutServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPayoutServiceClient(cc grpc.ClientConnInterface) *PayoutServiceClient {
	return &PayoutServiceClient{cc: cc}
}

func (c *PayoutServiceClient) Process(ctx context.Context, in *ProcessPayoutRequest, opts ...grpc.CallOption) (*ProcessPayoutResponse, error) {
	out := new(ProcessPayoutResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+payoutServiceName+"/Process", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
