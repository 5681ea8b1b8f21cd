package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/logger"
)

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisBus publishes chat events to Redis and relays events published by any
// instance to a local delivery function.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.client.Publish(ctx, env.Channel(), data).Err()
}

func (b *RedisBus) publish(ctx context.Context, env *Envelope, err error) {
	l := logger.Ctx(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to build chat event")
		return
	}
	if err := b.Publish(ctx, env); err != nil {
		l.Warn().Err(err).Str("channel", env.Channel()).Msg("failed to publish chat event")
	}
}

func (b *RedisBus) OnNewMessage(ctx context.Context, roomID string, msg *entity.ChatMessage) {
	env, err := NewMessageEvent(roomID, msg)
	b.publish(ctx, env, err)
}

func (b *RedisBus) OnUnreadCountChanged(ctx context.Context, userID, roomID string, count int) {
	env, err := NewUnreadEvent(userID, roomID, count)
	b.publish(ctx, env, err)
}

func (b *RedisBus) OnOfferStateChanged(ctx context.Context, offerID, roomID string, status entity.OfferStatus) {
	env, err := NewOfferEvent(offerID, roomID, status)
	b.publish(ctx, env, err)
}

// Run subscribes to every chat channel and hands each event to deliver until
// ctx is cancelled. Dropped subscriptions are re-established with backoff.
func (b *RedisBus) Run(ctx context.Context, deliver func(*Envelope)) {
	l := logger.Ctx(ctx)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		func() {
			pubsub := b.client.PSubscribe(ctx, roomChannelPrefix+"*", userChannelPrefix+"*")
			defer pubsub.Close()

			l.Info().Msg("chat event subscriber started")
			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					l.Warn().Err(err).Dur("backoff", backoff).Msg("chat event subscriber error")
					select {
					case <-time.After(backoff):
					case <-ctx.Done():
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}
				backoff = time.Second

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed chat event")
					continue
				}
				deliver(&env)
			}
		}()
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
