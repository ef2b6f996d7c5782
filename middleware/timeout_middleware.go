package middleware

import (
	"context"
	"time"

	"glweb/message"
	"glweb/transport"
)

type result struct {
	resp *message.Response
	err  error
}

// TimeOutMiddleware bounds unary calls to timeout. Streaming calls are left
// alone since their body stays open for the life of the subscription.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if req.Streaming || timeout <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, &transport.Error{Op: "post", URL: req.Path, Err: ctx.Err()}
			}
		}
	}
}
