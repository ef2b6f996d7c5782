package middleware

import (
	"context"
	"net/http"

	"glweb/message"

	"github.com/google/uuid"
)

// RequestIDMiddleware tags each call with an x-request-id header unless the
// caller already set one. Retries keep the same id.
func RequestIDMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if req.Header == nil {
				req.Header = make(http.Header)
			}
			if req.Header.Get(message.HeaderRequestID) == "" {
				req.Header.Set(message.HeaderRequestID, uuid.NewString())
			}
			return next(ctx, req)
		}
	}
}
