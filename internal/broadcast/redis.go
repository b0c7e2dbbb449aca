package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/apperr"
)

const channelPrefix = "collab:room:"

// ErrUnavailable wraps pub/sub failures.
var ErrUnavailable = fmt.Errorf("room bus: %w", apperr.ErrStoreUnavailable)

// RedisBus publishes each room on its own Redis channel and listens to all
// of them with one pattern subscription per process.
type RedisBus struct {
	client redis.UniversalClient
	logger zerolog.Logger
}

// NewRedisBus creates a Redis pub/sub bus.
func NewRedisBus(client redis.UniversalClient, logger zerolog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, channelPrefix+env.DocumentID, raw).Err(); err != nil {
		return fmt.Errorf("%w: publish: %w", ErrUnavailable, err)
	}

	return nil
}

// Run implements Bus.
func (b *RedisBus) Run(ctx context.Context, handler Handler) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	// wait for the subscription to be confirmed before relaying
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("%w: subscribe: %w", ErrUnavailable, err)
	}

	messages := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed room event")

				continue
			}

			if env.DocumentID == "" {
				env.DocumentID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}

			handler(env)
		}
	}
}

var _ Bus = (*RedisBus)(nil)
