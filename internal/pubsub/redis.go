package pubsub

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
	"github.com/midnight-ntwrk/midnight-indexer/pkg/logging"
)

// RedisBus is the production Bus, backed by Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	cfg    config.PubSub
	log    *logging.Logger
}

// NewRedisBus parses cfg.URL and connects.
func NewRedisBus(cfg config.PubSub) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "parse pubsub url", err)
	}
	opts.DialTimeout = cfg.DialTO
	opts.ReadTimeout = cfg.ReadTO

	client := redis.NewClient(opts)
	return &RedisBus{client: client, cfg: cfg, log: logging.GetDefault().Component("pubsub")}, nil
}

// Publish publishes payload on topic.
func (b *RedisBus) Publish(ctx context.Context, topic Topic, payload []byte) error {
	if err := b.client.Publish(ctx, string(topic), payload).Err(); err != nil {
		return apperr.Wrap(apperr.KindTransient, "publish", err)
	}
	return nil
}

// Subscribe opens a Redis subscription on topic, reconnecting on drop until
// ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, topic Topic) (<-chan []byte, error) {
	out := make(chan []byte, 256)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			sub := b.client.Subscribe(ctx, string(topic))
			ch := sub.Channel()

		readLoop:
			for {
				select {
				case <-ctx.Done():
					sub.Close()
					return
				case msg, ok := <-ch:
					if !ok {
						break readLoop
					}
					select {
					case out <- []byte(msg.Payload):
					case <-ctx.Done():
						sub.Close()
						return
					}
				}
			}
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			time.Sleep(b.cfg.DialTO)
		}
	}()

	return out, nil
}

// Close tears down the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
