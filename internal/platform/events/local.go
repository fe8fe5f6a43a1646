package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medhistory/internal/platform/telemetry"
)

const defaultLocalBuffer = 1024

// LocalBus is an in-process bus backed by a buffered channel. When the buffer
// is full new signals are dropped with a warning.
type LocalBus struct {
	ch      chan WorkspaceChanged
	logger  zerolog.Logger
	metrics *telemetry.Collector

	closeOnce sync.Once
	closed    chan struct{}
}

func NewLocalBus(size int, logger zerolog.Logger, metrics *telemetry.Collector) *LocalBus {
	if size <= 0 {
		size = defaultLocalBuffer
	}
	return &LocalBus{
		ch:      make(chan WorkspaceChanged, size),
		logger:  logger.With().Str("component", "events.local").Logger(),
		metrics: metrics,
		closed:  make(chan struct{}),
	}
}

func (b *LocalBus) Publish(_ context.Context, ev WorkspaceChanged) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case <-b.closed:
		return nil
	default:
	}
	select {
	case b.ch <- ev:
		b.metrics.ObservePublished("local")
	default:
		b.metrics.ObserveDropped()
		b.logger.Warn().
			Str("workspace_id", ev.WorkspaceID.String()).
			Str("reason", ev.Reason).
			Msg("event buffer full, dropping workspace change")
	}
	return nil
}

// Run drains the buffer until ctx is cancelled or the bus is closed. Handler
// errors are logged and do not stop the loop.
func (b *LocalBus) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			return nil
		case ev := <-b.ch:
			if err := h(ctx, ev); err != nil {
				b.logger.Error().Err(err).
					Str("workspace_id", ev.WorkspaceID.String()).
					Msg("workspace change handler failed")
			}
		}
	}
}

func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}
