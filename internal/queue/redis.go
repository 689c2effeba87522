package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Channel    string
	BufferSize int
	Logger     zerolog.Logger
}

// RedisBus carries notifications across processes over Redis pub/sub.
type RedisBus struct {
	client     *redis.Client
	channel    string
	bufferSize int
	logger     zerolog.Logger
}

func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "meetiq:jobs"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBus{
		client:     client,
		channel:    cfg.Channel,
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
	}, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (b *RedisBus) Publish(ctx context.Context, jobID string) error {
	if err := b.client.Publish(ctx, b.channel, jobID).Err(); err != nil {
		return fmt.Errorf("publish job notification: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan string, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan string, b.bufferSize)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-messages:
				if !ok {
					b.logger.Warn().Str("channel", b.channel).Msg("redis subscription closed")
					return
				}
				select {
				case out <- message.Payload:
				default:
				}
			}
		}
	}()
	return out, nil
}
