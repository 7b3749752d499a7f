// Package middleware decorates the node's message handler, onion style.
package middleware

import (
	"context"

	"mini-maelstrom/message"
)

// HandlerFunc handles one inbound envelope on the processing loop.
type HandlerFunc func(ctx context.Context, env *message.Envelope) error

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. Chain(A, B, C)(h) is A(B(C(h))), so A sees the
// envelope first and the result last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
