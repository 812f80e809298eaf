// Package middleware wraps the provider's request handler in an onion of
// cross-cutting concerns. Chain(A, B, C)(handler) executes
// A.before → B.before → C.before → handler → C.after → B.after → A.after.
package middleware

import (
	"context"

	"lite-rpc/message"
)

// HandlerFunc processes one decoded RPC request into a response. A handler
// never returns nil; failures are FAIL responses.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied in registration order.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
