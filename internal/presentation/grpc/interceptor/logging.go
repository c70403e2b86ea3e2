package interceptor

import (
	"context"
	"fmt"
	"time"

	otelinfra "ledger-server/internal/infrastructure/observability/otel"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor リクエストごとに結果と処理時間をログ出力するインターセプター
func LoggingInterceptor(logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := map[string]interface{}{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		}

		switch code {
		case codes.OK:
			logger.Info(ctx, "gRPC request completed", fields)
		case codes.InvalidArgument, codes.NotFound, codes.Canceled:
			fields["error"] = err.Error()
			logger.Warn(ctx, "gRPC request failed", fields)
		default:
			logger.Error(ctx, "gRPC request failed", err, fields)
		}
		return resp, err
	}
}

// RecoveryInterceptor ハンドラー内のpanicをInternalエラーに変換するインターセプター
func RecoveryInterceptor(logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "gRPC handler panicked", nil, map[string]interface{}{
					"method": info.FullMethod,
					"panic":  fmt.Sprint(r),
				})
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
