package middleware

import (
	"context"
	"errors"
	"time"

	"glweb/message"
	"glweb/transport"

	"go.uber.org/zap"
)

// RetryMiddleware re-issues calls that failed at the transport level, with
// exponential backoff starting at baseDelay. Responses carrying a gRPC error
// status are never retried: the node already executed (or rejected) the call.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(ctx, err) {
					return resp, err
				}
				logger.Info("retrying call",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.Error(err),
				)

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, err
				case <-timer.C:
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var te *transport.Error
	return errors.As(err, &te)
}
