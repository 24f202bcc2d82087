// Package progress pushes stage-transition events to subscribers.
// Publishing is fire-and-forget: a reporter failure is logged and never
// fails the pipeline run that produced the event.
package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/internal/entity"
)

// Reporter receives one event per stage transition.
type Reporter interface {
	Publish(ctx context.Context, event entity.StageEvent)
}

// LogReporter writes stage events to the structured log. It is the
// default reporter when no broker is configured.
type LogReporter struct {
	log *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{log: logger}
}

func (r *LogReporter) Publish(_ context.Context, event entity.StageEvent) {
	r.log.Info("pipeline.stage",
		"invoice_id", event.InvoiceID,
		"stage", event.Stage,
		"at", event.TimestampUTC,
		"detail", event.Detail,
	)
}

// Multi fans one event out to several reporters.
type Multi []Reporter

func (m Multi) Publish(ctx context.Context, event entity.StageEvent) {
	for _, r := range m {
		r.Publish(ctx, event)
	}
}

// NopReporter discards events. Useful in tests and one-shot CLI runs.
type NopReporter struct{}

func (NopReporter) Publish(context.Context, entity.StageEvent) {}

// Event constructs a stage event stamped now.
func Event(invoiceID uuid.UUID, stage, detail string) entity.StageEvent {
	return entity.StageEvent{
		InvoiceID:    invoiceID,
		Stage:        stage,
		TimestampUTC: time.Now().UTC(),
		Detail:       detail,
	}
}
