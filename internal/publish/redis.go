// Package publish mirrors computed payloads to Redis pub/sub so sibling
// services can consume the same stream the websocket clients see.
package publish

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"torypto-stream/internal/dispatch"
)

const (
	publishTimeout   = 2 * time.Second
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis mirror.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Redis publishes payload frames to per-key channels and keeps the latest
// frame per key in a TTL'd string for late joiners on the bus side.
type Redis struct {
	client *goredis.Client
	log    *zap.Logger
}

// Client returns the underlying client for health checks.
func (r *Redis) Client() *goredis.Client { return r.client }

// New creates a Redis mirror and pings the server.
func New(cfg Config, log *zap.Logger) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("redis mirror connected", zap.String("addr", cfg.Addr))
	return &Redis{client: client, log: log}, nil
}

// Publish implements dispatch.Publisher.
func (r *Redis) Publish(p *dispatch.Payload) error {
	frame, err := dispatch.Encode(p)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	var channel string
	switch p.Event {
	case dispatch.EventPriceUpdate:
		channel = "pub:ticker:" + p.Key.Symbol
	case dispatch.EventUpdate, dispatch.EventProgress:
		channel = "pub:kline:" + p.Key.Interval + ":" + p.Key.Symbol
	default:
		return nil // initial_data and error frames are subscriber-local
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, channel, frame)
	pipe.Set(ctx, "latest:"+channel[len("pub:"):], frame, defaultLatestTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }
