package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ws-rpc/message"
)

// LoggingMiddleware logs every request at debug level and failed ones at
// warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("op", string(req.Op)),
				zap.String("request_id", req.RequestID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Error != "" {
				logger.Warn("request failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			logger.Debug("request handled", fields...)
			return resp
		}
	}
}
