package insight

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ehr/medhistory/internal/platform/events"
	"github.com/ehr/medhistory/internal/platform/reasoning"
)

// Worker drains workspace-changed signals and applies the background
// regeneration policy to each.
type Worker struct {
	consumer events.Consumer
	svc      *Service
	logger   zerolog.Logger
}

func NewWorker(consumer events.Consumer, svc *Service, logger zerolog.Logger) *Worker {
	return &Worker{consumer: consumer, svc: svc, logger: logger.With().Str("component", "insight-worker").Logger()}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("insight worker started")
	err := w.consumer.Run(ctx, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes one signal. Collaborator failures are recorded on the
// rollup and logged, not returned, so the signal is not redelivered.
func (w *Worker) Handle(ctx context.Context, ev events.WorkspaceChanged) error {
	outcome, err := w.svc.HandleWorkspaceChanged(ctx, ev.WorkspaceID)
	log := w.logger.With().
		Str("workspace_id", ev.WorkspaceID.String()).
		Str("reason", ev.Reason).
		Str("outcome", outcome).
		Logger()
	switch {
	case err == nil:
		log.Debug().Msg("workspace change handled")
		return nil
	case errors.Is(err, reasoning.ErrCollaboratorTimeout),
		errors.Is(err, reasoning.ErrCollaboratorQuotaExceeded),
		errors.Is(err, reasoning.ErrCollaboratorUnavailable):
		log.Warn().Err(err).Msg("insight generation failed")
		return nil
	default:
		return err
	}
}
