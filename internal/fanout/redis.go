package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// DefaultRedisPrefix namespaces room channels.
const DefaultRedisPrefix = "wirechat:room:"

// Redis fans messages out over Redis pub/sub, one channel per room.
type Redis struct {
	client *redis.Client
	prefix string
	origin string
	log    *zerolog.Logger
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(ctx context.Context, redisURL, prefix, origin string, logger *zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "fanout").Str("driver", "redis").Logger()

	return &Redis{client: client, prefix: prefix, origin: origin, log: &l}, nil
}

// Publish sends msg on its room channel.
func (r *Redis) Publish(ctx context.Context, msg core.Message) error {
	data, err := encode(r.origin, msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.prefix+msg.Room, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen subscribes to every room channel and delivers until ctx is done.
func (r *Redis) Listen(ctx context.Context, deliver func(core.Message)) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.log.Info().Str("pattern", r.prefix+"*").Msg("fan-out subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			msg, origin, err := decode([]byte(m.Payload))
			if err != nil {
				r.log.Warn().Err(err).Str("channel", m.Channel).Msg("dropping malformed fan-out payload")
				continue
			}
			r.log.Debug().Int64("message_id", msg.ID).Str("room", msg.Room).Str("origin", origin).Msg("fan-out message received")
			deliver(msg)
		}
	}
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ core.Fanout = (*Redis)(nil)
