package middleware

import (
	"context"
	"time"

	"glweb/message"
	"glweb/status"

	"go.uber.org/zap"
)

// LoggingMiddleware logs one line per call: method, gRPC status and duration.
// Failed calls are logged at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", req.Header.Get(message.HeaderRequestID)),
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			code := resp.Code()
			fields = append(fields, zap.String("status", status.Name(code)), zap.Int("http_status", resp.StatusCode))
			if status.IsOK(code) {
				logger.Debug("call", fields...)
			} else {
				logger.Warn("call returned error status", fields...)
			}
			return resp, nil
		}
	}
}
