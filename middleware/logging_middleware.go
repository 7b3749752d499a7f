package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mini-maelstrom/message"
)

// Logging logs every handled envelope with its duration, and the error if any.
func Logging(logger *logrus.Entry) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			start := time.Now()
			err := next(ctx, env)
			entry := logger.WithFields(logrus.Fields{
				"src":      env.Src,
				"type":     env.Type(),
				"duration": time.Since(start),
			})
			if env.Body.MsgID != nil {
				entry = entry.WithField("msg_id", *env.Body.MsgID)
			}
			if err != nil {
				entry.WithError(err).Debug("Handled")
			} else {
				entry.Debug("Handled")
			}
			return err
		}
	}
}
