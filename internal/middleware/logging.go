// internal/middleware/logging.go
package middleware

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
)

// UnaryLoggingInterceptor logs one line per call with method, status code and duration.
// Failed calls are logged at warn level. It must run after UnaryRequestIDInterceptor
// to pick up the request-scoped logger.
func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		l := Logger(ctx, logger)
		attrs := []any{
			"method", info.FullMethod,
			"code", statusCode(err),
			"duration", time.Since(start),
		}
		if err != nil {
			l.Warn("rpc failed", append(attrs, "err", err)...)
		} else {
			l.Info("rpc", attrs...)
		}

		return resp, err
	}
}
