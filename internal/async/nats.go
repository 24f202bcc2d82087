package async

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/invoiceflow/pipeline/internal/common"
)

// jobsQueueGroup makes every subscriber part of one consumer group, so
// N service processes split the jobs instead of each processing all.
const jobsQueueGroup = "invoiced-workers"

// NATSQueue distributes pipeline jobs over a NATS subject. Enqueue
// publishes the job; Start subscribes this process's workers to the
// shared subject, feeding received jobs into the local ProcessorQueue.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	local   *ProcessorQueue
	sub     *nats.Subscription
	log     *slog.Logger
}

// NATSOptions tunes the jobs connection.
type NATSOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

func NewNATSQueue(url, subject string, local *ProcessorQueue, opts NATSOptions, logger *slog.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := opts.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := opts.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("invoiceflow-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("jobs.nats.disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("jobs.nats.reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSQueue{conn: conn, subject: subject, local: local, log: logger}, nil
}

// Start joins the worker queue group. Without it this process only
// publishes, which is how an API-only instance runs.
func (q *NATSQueue) Start() error {
	sub, err := q.conn.QueueSubscribe(q.subject, jobsQueueGroup, q.handle)
	if err != nil {
		return fmt.Errorf("subscribe jobs: %w", err)
	}
	q.sub = sub
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("flush after subscribe: %w", err)
	}
	q.log.Info("jobs.nats.subscribed", "subject", q.subject, "group", jobsQueueGroup)
	return nil
}

func (q *NATSQueue) handle(msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		q.log.Error("jobs.nats.decode_failed", "error", err, "bytes", len(msg.Data))
		return
	}
	if err := q.local.Enqueue(context.Background(), job); err != nil {
		q.log.Warn("jobs.nats.local_enqueue_failed", "invoice_id", job.InvoiceID, "error", err)
	}
}

func (q *NATSQueue) Enqueue(_ context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return common.WrapError(err, "encode job")
	}
	if err := q.conn.Publish(q.subject, b); err != nil {
		q.log.Error("jobs.nats.publish_failed", "invoice_id", job.InvoiceID, "error", err)
		return common.NewAppError("QUEUE_UNAVAILABLE", "cannot publish job", common.ErrUnavailable)
	}
	q.log.Info("jobs.nats.published", "invoice_id", job.InvoiceID, "pdf_bytes", len(job.PDF))
	return nil
}

// Shutdown stops taking new jobs, drains the in-flight ones and closes
// the connection.
func (q *NATSQueue) Shutdown(ctx context.Context) {
	if q.sub != nil {
		if err := q.sub.Drain(); err != nil {
			q.log.Warn("jobs.nats.drain_failed", "error", err)
		}
	}
	q.local.Shutdown(ctx)
	q.conn.Close()
}
