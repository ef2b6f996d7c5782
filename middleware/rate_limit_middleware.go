package middleware

import (
	"context"
	"errors"

	"glweb/message"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware rejects calls beyond r per second (token bucket of size burst).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
