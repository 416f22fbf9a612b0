package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps the event stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// RedisConfig holds connection parameters for the Redis sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Channel  string
}

// RedisSink appends every event to a capped Redis stream and publishes it
// on a channel for live subscribers. Failures are logged and dropped.
type RedisSink struct {
	rdb     *redis.Client
	stream  string
	channel string
	timeout time.Duration
}

// NewRedisSink connects and pings Redis.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	s := &RedisSink{rdb: rdb, stream: cfg.Stream, channel: cfg.Channel, timeout: 2 * time.Second}
	if s.stream == "" {
		s.stream = "freight:events"
	}
	return s, nil
}

// Close releases the connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

func (s *RedisSink) Emit(e Event) {
	payload, err := encodeEvent(e)
	if err != nil {
		slog.Debug("telemetry encode failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.rdb.XAdd(ctx, streamArgs(s.stream, e.Type, payload)).Err(); err != nil {
		slog.Debug("redis stream append failed", "stream", s.stream, "error", err)
	}
	if s.channel != "" {
		if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
			slog.Debug("redis publish failed", "channel", s.channel, "error", err)
		}
	}
}

func encodeEvent(e Event) ([]byte, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.Marshal(e)
}

func streamArgs(stream string, t EventType, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(t),
			"payload": payload,
		},
	}
}
