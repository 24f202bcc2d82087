package async

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

func TestNATSHandleFeedsLocalQueue(t *testing.T) {
	runner := &countingRunner{}
	local := NewProcessorQueue(runner, nil, WithWorkers(1), WithQueueSize(4))
	q := &NATSQueue{subject: "invoices.jobs", local: local, log: slog.Default()}

	job := Job{
		InvoiceID:   uuid.New(),
		FileName:    "acme.pdf",
		PDF:         []byte("%PDF-1.7"),
		SubmittedAt: time.Now(),
	}
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	q.handle(&nats.Msg{Subject: "invoices.jobs", Data: b})
	q.handle(&nats.Msg{Subject: "invoices.jobs", Data: []byte("{not json")}) // must not panic

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	local.Shutdown(ctx)

	if got := runner.count(); got != 1 {
		t.Fatalf("processed %d jobs, want 1 (malformed message dropped)", got)
	}
	if runner.ids[0] != job.InvoiceID {
		t.Errorf("processed id = %s, want %s", runner.ids[0], job.InvoiceID)
	}
}

func TestJobSurvivesWireEncoding(t *testing.T) {
	job := Job{
		InvoiceID:   uuid.New(),
		FileName:    "acme.pdf",
		PDF:         []byte("%PDF-1.7 binary \x00\xff"),
		SubmittedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Job
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.InvoiceID != job.InvoiceID || back.FileName != job.FileName {
		t.Errorf("round trip lost identity: %+v", back)
	}
	if string(back.PDF) != string(job.PDF) {
		t.Error("binary PDF payload corrupted on the wire")
	}
}
