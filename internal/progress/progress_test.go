package progress

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/entity"
)

func TestLogReporterEmitsStage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := NewLogReporter(logger)

	id := uuid.New()
	r.Publish(context.Background(), Event(id, string(constants.StageOCRDone), "2 adapters"))

	out := buf.String()
	if !strings.Contains(out, id.String()) {
		t.Errorf("log output missing invoice id: %s", out)
	}
	if !strings.Contains(out, string(constants.StageOCRDone)) {
		t.Errorf("log output missing stage: %s", out)
	}
}

func TestEventStampsTimestamp(t *testing.T) {
	ev := Event(uuid.New(), string(constants.StageUploaded), "")
	if ev.TimestampUTC.IsZero() {
		t.Error("event timestamp not stamped")
	}
	if ev.TimestampUTC.Location() != ev.TimestampUTC.UTC().Location() {
		t.Error("event timestamp not UTC")
	}
}

type countingReporter struct{ n int }

func (c *countingReporter) Publish(context.Context, entity.StageEvent) { c.n++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{}
	m := Multi{a, b, NopReporter{}}
	m.Publish(context.Background(), Event(uuid.New(), string(constants.StageUploaded), ""))
	if a.n != 1 || b.n != 1 {
		t.Errorf("fan-out counts = %d,%d", a.n, b.n)
	}
}
