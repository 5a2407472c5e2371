package messagepipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// MaxPubSubMessageBytes is the largest message Pub/Sub accepts.
const MaxPubSubMessageBytes = 10 * 1000 * 1000

// WithPayloadLimit wraps a transformer so that messages whose payload exceeds
// maxSize bytes are skipped (and so Acked) before the inner transformer runs.
// Such messages could never be delivered and would be redelivered forever
// if Nacked.
func WithPayloadLimit[T any](inner MessageTransformer[T], maxSize int, logger zerolog.Logger) MessageTransformer[T] {
	return func(ctx context.Context, msg *Message) (*T, bool, error) {
		if size := len(msg.Payload); size > maxSize {
			logger.Warn().
				Str("msg_id", msg.ID).
				Str("topic", msg.Topic).
				Int("payload_size", size).
				Int("max_size", maxSize).
				Msg("Dropping message with oversized payload.")
			return nil, true, nil
		}
		return inner(ctx, msg)
	}
}
