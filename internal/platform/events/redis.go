package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/ehr/medhistory/internal/platform/telemetry"
)

const payloadField = "data"

// RedisConfig configures the stream transport.
type RedisConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxLen caps the stream length (approximate trimming).
	MaxLen int64
	Block  time.Duration
	Count  int64
}

// RedisBus publishes with XADD and consumes with XREADGROUP so several worker
// processes can share the load.
type RedisBus struct {
	client  *redis.Client
	cfg     RedisConfig
	logger  zerolog.Logger
	metrics *telemetry.Collector
}

func NewRedisBus(client *redis.Client, cfg RedisConfig, logger zerolog.Logger, metrics *telemetry.Collector) *RedisBus {
	if cfg.Block == 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 16
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 10_000
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker"
	}
	return &RedisBus{
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "events.redis").Str("stream", cfg.Stream).Logger(),
		metrics: metrics,
	}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (b *RedisBus) Publish(ctx context.Context, ev WorkspaceChanged) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal workspace change: %w", err)
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", b.cfg.Stream, err)
	}
	b.metrics.ObservePublished("redis")
	return nil
}

// EnsureGroup creates the consumer group and the stream if missing.
func (b *RedisBus) EnsureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", b.cfg.Group, err)
	}
	return nil
}

// Poll reads one batch for this consumer, hands each message to h and
// acknowledges it. It returns the number of messages processed.
func (b *RedisBus) Poll(ctx context.Context, h Handler) (int, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{b.cfg.Stream, ">"},
		Count:    b.cfg.Count,
		Block:    b.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("xreadgroup: %w", err)
	}

	n := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			ev, decodeErr := decode(msg.Values)
			if decodeErr != nil {
				b.logger.Warn().Err(decodeErr).Str("message_id", msg.ID).Msg("discarding malformed workspace change")
			} else if hErr := h(ctx, ev); hErr != nil {
				// Acked anyway: the next change to the workspace re-triggers the handler.
				b.logger.Error().Err(hErr).
					Str("message_id", msg.ID).
					Str("workspace_id", ev.WorkspaceID.String()).
					Msg("workspace change handler failed")
			}
			if err := b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, msg.ID).Err(); err != nil {
				return n, fmt.Errorf("xack %s: %w", msg.ID, err)
			}
			n++
		}
	}
	return n, nil
}

func (b *RedisBus) Run(ctx context.Context, h Handler) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}
	b.logger.Info().Str("group", b.cfg.Group).Str("consumer", b.cfg.Consumer).Msg("consuming workspace changes")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := b.Poll(ctx, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error().Err(err).Msg("poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func decode(values map[string]interface{}) (WorkspaceChanged, error) {
	var ev WorkspaceChanged
	raw, ok := values[payloadField].(string)
	if !ok {
		return ev, fmt.Errorf("missing %q field", payloadField)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("decode workspace change: %w", err)
	}
	return ev, nil
}
