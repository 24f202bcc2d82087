package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/invoiceflow/pipeline/internal/entity"
)

// NATSReporter publishes stage events as JSON onto a NATS subject so
// dashboards and other services can follow pipeline progress live.
type NATSReporter struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// Options tunes the NATS connection.
type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

func NewNATSReporter(url, subject string, opts Options, logger *slog.Logger) (*NATSReporter, error) {
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
			logger.Warn("progress.nats.disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("progress.nats.reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSReporter{conn: conn, subject: subject, log: logger}, nil
}

// Publish encodes and sends the event. Failures are logged and
// swallowed: progress reporting never fails a pipeline run.
func (r *NATSReporter) Publish(_ context.Context, event entity.StageEvent) {
	b, err := json.Marshal(event)
	if err != nil {
		r.log.Warn("progress.nats.encode_failed", "invoice_id", event.InvoiceID, "error", err)
		return
	}
	if err := r.conn.Publish(r.subject, b); err != nil {
		r.log.Warn("progress.nats.publish_failed",
			"invoice_id", event.InvoiceID, "stage", event.Stage, "error", err)
		return
	}
	r.log.Debug("progress.nats.published", "invoice_id", event.InvoiceID, "stage", event.Stage)
}

func (r *NATSReporter) Close() {
	if r.conn != nil {
		r.conn.Close()
	}
}
