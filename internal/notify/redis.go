package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const roomChannel = "room_lifecycle_events"

// Connect builds and pings a Redis client for the room-changed channel.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Publisher pushes room IDs onto the shared pub/sub channel. Delivery is
// at-least-once overall: the periodic reconcile sweep covers anything lost
// here, and duplicate delivery is harmless to the detector.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) RoomChanged(ctx context.Context, roomID string) error {
	if err := p.rdb.Publish(ctx, roomChannel, roomID).Err(); err != nil {
		return fmt.Errorf("publish room change: %w", err)
	}
	return nil
}

// Subscriber feeds room IDs from the channel into a handler until ctx ends.
type Subscriber struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewSubscriber(rdb *redis.Client, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{rdb: rdb, log: logger}
}

func (s *Subscriber) Run(ctx context.Context, handle func(ctx context.Context, roomID string) error) error {
	pubsub := s.rdb.Subscribe(ctx, roomChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("pubsub receive failed", "err", err)
			continue
		}
		if err := handle(ctx, msg.Payload); err != nil {
			// Detection is idempotent and the sweep will retry; log
			// and keep consuming rather than dropping the stream.
			s.log.Warn("room event handling failed", "room_id", msg.Payload, "err", err)
		}
	}
}
