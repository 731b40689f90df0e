package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/at-ishikawa/studycore/internal/config"
)

const defaultChannel = "studycore.generation"

// RedisPublisher fans events out over a Redis pub/sub channel so every
// server instance and CLI watcher sees them.
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisPublisher connects to Redis and checks the connection.
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(rdb, cfg.Channel), nil
}

func newRedisPublisher(rdb *goredis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("json.Marshal > %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// Subscribe calls handle for every event until ctx ends or handle returns
// false.
func (p *RedisPublisher) Subscribe(ctx context.Context, handle func(Event) bool) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				slog.Default().Warn("bad progress payload", "error", err)
				continue
			}
			if !handle(event) {
				return nil
			}
		}
	}
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, fmt.Errorf("json.Unmarshal > %w", err)
	}
	return event, nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// NewPublisher returns a Redis publisher when Redis is enabled and a log
// publisher otherwise. The returned close function is never nil.
func NewPublisher(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (Publisher, func() error, error) {
	logPublisher := NewLogPublisher(logger)
	if !cfg.Enabled {
		return logPublisher, func() error { return nil }, nil
	}
	redisPublisher, err := NewRedisPublisher(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return Multi{redisPublisher, logPublisher}, redisPublisher.Close, nil
}
