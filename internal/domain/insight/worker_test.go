package insight

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medhistory/internal/platform/events"
)

func eventFor(id uuid.UUID) events.WorkspaceChanged {
	return events.WorkspaceChanged{WorkspaceID: id, Reason: events.ReasonRecordAdded, OccurredAt: time.Now().UTC()}
}

func TestWorker_RunDrainsLocalBus(t *testing.T) {
	e := newEnv(t, testConfig())
	bus := events.NewLocalBus(4, zerolog.Nop(), nil)
	w := NewWorker(bus, e.svc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if err := bus.Publish(ctx, eventFor(e.ws.ID)); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for e.reasoner.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("signal was not consumed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
