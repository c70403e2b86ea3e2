// Package pb ledger.v1.PaymentQuery サービスの定義
//
// メッセージには well-known types (StringValue, Struct, ListValue) を使い、
// 独自の .proto を持たない
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	PaymentQuery_ServiceName = "ledger.v1.PaymentQuery"

	PaymentQuery_GetPaymentStatus_FullMethodName = "/ledger.v1.PaymentQuery/GetPaymentStatus"
	PaymentQuery_ListUserPayments_FullMethodName = "/ledger.v1.PaymentQuery/ListUserPayments"
	PaymentQuery_GetBalance_FullMethodName       = "/ledger.v1.PaymentQuery/GetBalance"
)

// PaymentQueryServer サーバー側のインターフェース
type PaymentQueryServer interface {
	// GetPaymentStatus 決済IDから {payment_id, status} を返す
	GetPaymentStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// ListUserPayments ユーザーIDから決済の一覧を作成順に返す
	ListUserPayments(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	// GetBalance ユーザーIDから残高を返す
	GetBalance(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// UnimplementedPaymentQueryServer 埋め込み用の未実装サーバー
type UnimplementedPaymentQueryServer struct{}

func (UnimplementedPaymentQueryServer) GetPaymentStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetPaymentStatus not implemented")
}

func (UnimplementedPaymentQueryServer) ListUserPayments(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListUserPayments not implemented")
}

func (UnimplementedPaymentQueryServer) GetBalance(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}

// RegisterPaymentQueryServer サーバーを登録
func RegisterPaymentQueryServer(s grpc.ServiceRegistrar, srv PaymentQueryServer) {
	s.RegisterService(&PaymentQuery_ServiceDesc, srv)
}

// unaryHandler 型付きのメソッドを grpc.MethodDesc のハンドラーに変換する
func unaryHandler[Req any, Resp any](
	fullMethod string,
	call func(PaymentQueryServer, context.Context, *Req) (Resp, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PaymentQueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PaymentQueryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PaymentQuery_ServiceDesc ledger.v1.PaymentQuery のサービス記述子
var PaymentQuery_ServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentQuery_ServiceName,
	HandlerType: (*PaymentQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetPaymentStatus",
			Handler:    unaryHandler(PaymentQuery_GetPaymentStatus_FullMethodName, PaymentQueryServer.GetPaymentStatus),
		},
		{
			MethodName: "ListUserPayments",
			Handler:    unaryHandler(PaymentQuery_ListUserPayments_FullMethodName, PaymentQueryServer.ListUserPayments),
		},
		{
			MethodName: "GetBalance",
			Handler:    unaryHandler(PaymentQuery_GetBalance_FullMethodName, PaymentQueryServer.GetBalance),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/payment_query.proto",
}

// PaymentQueryClient クライアント側のインターフェース
type PaymentQueryClient interface {
	GetPaymentStatus(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListUserPayments(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	GetBalance(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type paymentQueryClient struct {
	cc grpc.ClientConnInterface
}

// NewPaymentQueryClient 新しいクライアントを作成
func NewPaymentQueryClient(cc grpc.ClientConnInterface) PaymentQueryClient {
	return &paymentQueryClient{cc: cc}
}

func (c *paymentQueryClient) GetPaymentStatus(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PaymentQuery_GetPaymentStatus_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *paymentQueryClient) ListUserPayments(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, PaymentQuery_ListUserPayments_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *paymentQueryClient) GetBalance(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PaymentQuery_GetBalance_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
