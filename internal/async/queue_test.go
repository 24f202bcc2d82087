package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/pipeline"
)

type countingRunner struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (c *countingRunner) Process(_ context.Context, req pipeline.RunRequest) (pipeline.RunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, req.InvoiceID)
	return pipeline.RunResult{Status: constants.StageStructuringDone}, nil
}

func (c *countingRunner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func TestQueueProcessesAllJobs(t *testing.T) {
	runner := &countingRunner{}
	q := NewProcessorQueue(runner, nil, WithWorkers(3), WithQueueSize(16))

	for range 10 {
		if err := q.Enqueue(context.Background(), Job{
			InvoiceID:   uuid.New(),
			FileName:    "x.pdf",
			PDF:         []byte("%PDF-1.4"),
			SubmittedAt: time.Now(),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	if got := runner.count(); got != 10 {
		t.Errorf("processed %d jobs, want 10", got)
	}
}

func TestEnqueueAfterShutdownErrors(t *testing.T) {
	runner := &countingRunner{}
	q := NewProcessorQueue(runner, nil, WithWorkers(1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)

	err := q.Enqueue(context.Background(), Job{InvoiceID: uuid.New()})
	if !errors.Is(err, common.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable so callers can surface 503", err)
	}
	if got := runner.count(); got != 0 {
		t.Errorf("processed %d jobs after shutdown, want 0", got)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	q := NewProcessorQueue(&countingRunner{}, nil, WithWorkers(1))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)
	q.Shutdown(ctx) // second call must not panic on closed channel
}
