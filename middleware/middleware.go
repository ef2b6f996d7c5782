// Package middleware wraps the client's round trip in interceptors.
//
// Middlewares compose like an onion: the first one passed to Chain is the
// outermost and sees the request first and the response last.
//
//	Chain(Logging, Timeout, Retry)(roundTrip)
//	  → Logging → Timeout → Retry → roundTrip → Retry → Timeout → Logging
package middleware

import (
	"context"

	"glweb/message"
)

// HandlerFunc performs one call.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, first argument outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
