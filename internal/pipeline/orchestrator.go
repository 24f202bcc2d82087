// Package pipeline runs the extraction fan-out and drives an invoice
// through its processing lifecycle.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/observability/metrics"
)

// Orchestrator fans one document out to the requested adapters. Each
// adapter failure is caught and recorded, never aborting siblings. The
// merged result orders everything by the canonical adapter enumeration
// so repeated runs are byte-identical.
type Orchestrator struct {
	adapters map[constants.AdapterKind]extract.Adapter
	timeout  time.Duration // per-adapter; 0 means no deadline
	metrics  *metrics.PipelineMetrics
	service  string
	log      *slog.Logger
}

func NewOrchestrator(adapters []extract.Adapter, perAdapterTimeout time.Duration, m *metrics.PipelineMetrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	byKind := make(map[constants.AdapterKind]extract.Adapter, len(adapters))
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}
	return &Orchestrator{
		adapters: byKind,
		timeout:  perAdapterTimeout,
		metrics:  m,
		service:  "pipeline",
		log:      logger,
	}
}

// Registered lists the adapters this orchestrator can run, in canonical
// order.
func (o *Orchestrator) Registered() []constants.AdapterKind {
	var out []constants.AdapterKind
	for _, kind := range constants.AdapterOrder {
		if _, ok := o.adapters[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// Run executes the requested adapters concurrently and merges their
// outcomes. Unknown or unregistered kinds are recorded as unavailable.
// Cancelling ctx propagates to every in-flight adapter call.
func (o *Orchestrator) Run(ctx context.Context, pdf []byte, kinds []constants.AdapterKind) *extract.ExtractionResult {
	start := time.Now()
	res := extract.NewExtractionResult()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range dedupe(kinds) {
		adapter, ok := o.adapters[kind]
		if !ok {
			mu.Lock()
			res.Record(kind, extract.RawExtraction{}, extract.NewUnavailable(kind, "adapter not configured", nil))
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			actx := gctx
			if o.timeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(gctx, o.timeout)
				defer cancel()
			}

			raw, err := adapter.Extract(actx, pdf)
			if o.metrics != nil {
				o.metrics.ObserveAdapter(o.service, string(kind), err)
			}
			if err != nil {
				o.log.Warn("pipeline.adapter_failed", "adapter", kind, "error", err)
			}
			mu.Lock()
			res.Record(kind, raw, err)
			mu.Unlock()
			// Failures are recorded, not returned: one adapter must
			// never cancel its siblings through the group context.
			return nil
		})
	}
	_ = g.Wait()

	res.SortErrors()
	if o.metrics != nil {
		for _, ae := range res.Errors {
			o.metrics.ObserveAdapterError(o.service, string(ae.Adapter), string(ae.Reason))
		}
	}
	o.log.Info("pipeline.extract_done",
		"requested", len(kinds),
		"succeeded", len(res.Extractions),
		"failed", len(res.Errors),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func dedupe(kinds []constants.AdapterKind) []constants.AdapterKind {
	seen := make(map[constants.AdapterKind]struct{}, len(kinds))
	var out []constants.AdapterKind
	for _, k := range kinds {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
