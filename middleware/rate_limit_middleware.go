package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mini-maelstrom/message"
)

// RateLimit admits at most r requests per second with bursts of burst, using a token
// bucket. Rejected envelopes fail with a temporarily-unavailable RPCError. Replies are
// never limited.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			if !env.IsReply() && !limiter.Allow() {
				return message.NewRPCError(message.TemporarilyUnavailable, "rate limit exceeded")
			}
			return next(ctx, env)
		}
	}
}
