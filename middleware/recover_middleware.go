package middleware

import (
	"context"
	"fmt"

	"mini-maelstrom/message"
)

// Recover turns a panic in next into a crash RPCError.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = message.NewRPCError(message.Crash, "handler panic on %s: %v", env.Type(), r)
				}
			}()
			return next(ctx, env)
		}
	}
}

// PanicError wraps a recovered value that is not already an error.
func PanicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
