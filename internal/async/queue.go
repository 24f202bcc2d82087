// Package async runs pipeline jobs on a bounded worker pool.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/pipeline"
)

// Job is one queued pipeline run.
type Job struct {
	InvoiceID   uuid.UUID
	FileName    string
	PDF         []byte
	Adapters    []constants.AdapterKind
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Runner is what the queue drives; *pipeline.Processor satisfies it.
type Runner interface {
	Process(ctx context.Context, req pipeline.RunRequest) (pipeline.RunResult, error)
}

type ProcessorQueue struct {
	proc    Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc Runner, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					out, err := q.proc.Process(ctx, pipeline.RunRequest{
						InvoiceID: job.InvoiceID,
						FileName:  job.FileName,
						PDF:       job.PDF,
						Adapters:  job.Adapters,
					})
					cancel()

					if err != nil {
						q.logger.Error("processing failed", "worker_id", workerID, "invoice_id", job.InvoiceID, "error", err)
					} else {
						q.logger.Info("processed invoice", "worker_id", workerID, "invoice_id", job.InvoiceID,
							"status", out.Status, "queue_lag_ms", time.Since(job.SubmittedAt).Milliseconds())
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "invoice_id", job.InvoiceID)
		return common.NewAppError("QUEUE_CLOSED", "processing queue is shutting down", common.ErrUnavailable)
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued invoice for processing", "invoice_id", job.InvoiceID)
	default:
		q.logger.Warn("queue full, applying backpressure", "invoice_id", job.InvoiceID)
		q.ch <- job
	}
	return nil
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
