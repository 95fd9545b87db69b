package transcript

import (
	"context"
	"log/slog"

	"github.com/edulive-ai/tutorlive/pkg/tutor/audit"
	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/routing"
)

// AsyncRecorder adapts a Store to the fire-and-forget audit interfaces.
// Writes are submitted to the audit queue; the conversational turn never
// waits on the database.
type AsyncRecorder struct {
	queue  *audit.Queue
	store  Store
	logger *slog.Logger
}

func NewAsyncRecorder(queue *audit.Queue, store Store, logger *slog.Logger) *AsyncRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncRecorder{queue: queue, store: store, logger: logger}
}

// RecordRoutingDecision implements routing.AuditSink.
func (r *AsyncRecorder) RecordRoutingDecision(rec routing.DecisionRecord) {
	r.queue.Submit(func(ctx context.Context) error {
		return r.store.SaveRoutingDecision(ctx, rec)
	})
}

// Record implements guardrail.Recorder.
func (r *AsyncRecorder) Record(ev guardrail.Event) {
	r.queue.Submit(func(ctx context.Context) error {
		return r.store.SaveGuardrailEvent(ctx, ev)
	})
}

// RecordTurn persists a transcript turn without blocking the caller.
func (r *AsyncRecorder) RecordTurn(turn Turn) {
	r.queue.Submit(func(ctx context.Context) error {
		return r.store.SaveTurn(ctx, turn)
	})
}

// RecordEscalation persists an escalation event without blocking the caller.
func (r *AsyncRecorder) RecordEscalation(ev EscalationEvent) {
	r.queue.Submit(func(ctx context.Context) error {
		return r.store.SaveEscalationEvent(ctx, ev)
	})
}
