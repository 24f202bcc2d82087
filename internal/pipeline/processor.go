package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/entity"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/observability/metrics"
	"github.com/invoiceflow/pipeline/internal/progress"
	"github.com/invoiceflow/pipeline/internal/structurer"
)

// Store is the persistence surface the processor needs. The repository
// package provides the Postgres implementation.
type Store interface {
	UpdateStage(ctx context.Context, invoiceID uuid.UUID, stage constants.ProcessingStage, detail string) error
	SaveStructure(ctx context.Context, invoiceID uuid.UUID, st entity.InvoiceStructure, meta entity.ProcessingMetadata) error
	MarkFailed(ctx context.Context, invoiceID uuid.UUID, meta entity.ProcessingMetadata) error
}

// RunRequest is one invoice's pipeline run.
type RunRequest struct {
	InvoiceID uuid.UUID
	FileName  string
	PDF       []byte
	Adapters  []constants.AdapterKind // empty means all registered
}

// RunResult is what the caller always gets back: either a complete,
// possibly-flagged structure, or an explicit Failed status with the
// adapter errors attached. Never a partial result.
type RunResult struct {
	Status    constants.ProcessingStage
	Structure *entity.InvoiceStructure
	Metadata  entity.ProcessingMetadata
	Errors    []*extract.AdapterError
}

// Processor owns the ProcessingStage for each run: it is the only
// component that mutates stages, and only on legal forward transitions.
type Processor struct {
	orch       *Orchestrator
	structurer *structurer.Structurer
	store      Store
	reporter   progress.Reporter
	metrics    *metrics.PipelineMetrics
	service    string
	log        *slog.Logger
}

func NewProcessor(orch *Orchestrator, s *structurer.Structurer, store Store, reporter progress.Reporter, m *metrics.PipelineMetrics, logger *slog.Logger) *Processor {
	if reporter == nil {
		reporter = progress.NopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		orch:       orch,
		structurer: s,
		store:      store,
		reporter:   reporter,
		metrics:    m,
		service:    "pipeline",
		log:        logger,
	}
}

// Process runs one invoice end to end. Stage transitions are persisted
// and published as they happen; temporary artifacts are scoped to this
// run via the run ID placed on the context.
func (p *Processor) Process(ctx context.Context, req RunRequest) (RunResult, error) {
	start := time.Now()
	runID := uuid.New()
	ctx = common.WithRunID(ctx, runID)

	if p.metrics != nil {
		p.metrics.StartRun()
	}
	p.log.Info("pipeline.run.start",
		"invoice_id", req.InvoiceID, "run_id", runID,
		"file", req.FileName, "pdf_bytes", len(req.PDF))

	kinds := req.Adapters
	if len(kinds) == 0 {
		kinds = p.orch.Registered()
	}

	if err := p.transition(ctx, req.InvoiceID, constants.StageOCRRunning, fmt.Sprintf("adapters: %s", joinKinds(kinds))); err != nil {
		return p.finish(ctx, req, RunResult{Status: constants.StageFailed}, start, err)
	}

	res := p.orch.Run(ctx, req.PDF, kinds)

	if !res.Succeeded() {
		meta := buildMetadata(res, start)
		if err := p.store.MarkFailed(ctx, req.InvoiceID, meta); err != nil {
			p.log.Error("pipeline.mark_failed_error", "invoice_id", req.InvoiceID, "error", err)
		}
		p.publish(ctx, req.InvoiceID, constants.StageFailed, "all adapters failed")
		out := RunResult{Status: constants.StageFailed, Metadata: meta, Errors: res.Errors}
		return p.finish(ctx, req, out, start, nil)
	}

	if err := p.transition(ctx, req.InvoiceID, constants.StageOCRDone, fmt.Sprintf("methods: %s", strings.Join(res.Methods(), "+"))); err != nil {
		return p.finish(ctx, req, RunResult{Status: constants.StageFailed}, start, err)
	}
	if err := p.transition(ctx, req.InvoiceID, constants.StageStructuringRunning, ""); err != nil {
		return p.finish(ctx, req, RunResult{Status: constants.StageFailed}, start, err)
	}

	st, err := p.structurer.Structure(ctx, res, req.FileName)
	if err != nil {
		var sf *structurer.StructuringFailure
		if !errors.As(err, &sf) {
			sf = &structurer.StructuringFailure{RawText: res.Corpus(), Cause: err}
		}
		meta := buildMetadata(res, start)
		meta.Errors = append(meta.Errors, sf.Error())
		if serr := p.store.MarkFailed(ctx, req.InvoiceID, meta); serr != nil {
			p.log.Error("pipeline.mark_failed_error", "invoice_id", req.InvoiceID, "error", serr)
		}
		p.publish(ctx, req.InvoiceID, constants.StageFailed, "structuring failed")
		out := RunResult{Status: constants.StageFailed, Metadata: meta, Errors: res.Errors}
		return p.finish(ctx, req, out, start, nil)
	}

	meta := buildMetadata(res, start)
	if err := p.store.SaveStructure(ctx, req.InvoiceID, st, meta); err != nil {
		return p.finish(ctx, req, RunResult{Status: constants.StageFailed}, start, fmt.Errorf("persist structure: %w", err))
	}
	if err := p.transition(ctx, req.InvoiceID, constants.StageStructuringDone, st.FlagReason); err != nil {
		return p.finish(ctx, req, RunResult{Status: constants.StageFailed}, start, err)
	}
	if st.Flagged && p.metrics != nil {
		p.metrics.ObserveFlagged(p.service, st.FlagReason)
	}

	out := RunResult{
		Status:    constants.StageStructuringDone,
		Structure: &st,
		Metadata:  meta,
		Errors:    res.Errors,
	}
	return p.finish(ctx, req, out, start, nil)
}

// transition persists a stage change and publishes the event.
func (p *Processor) transition(ctx context.Context, invoiceID uuid.UUID, stage constants.ProcessingStage, detail string) error {
	if err := p.store.UpdateStage(ctx, invoiceID, stage, detail); err != nil {
		return fmt.Errorf("update stage to %s: %w", stage, err)
	}
	p.publish(ctx, invoiceID, stage, detail)
	return nil
}

func (p *Processor) publish(ctx context.Context, invoiceID uuid.UUID, stage constants.ProcessingStage, detail string) {
	p.reporter.Publish(ctx, progress.Event(invoiceID, string(stage), detail))
}

func (p *Processor) finish(ctx context.Context, req RunRequest, out RunResult, start time.Time, err error) (RunResult, error) {
	elapsed := time.Since(start)
	if p.metrics != nil {
		status := strings.ToLower(string(out.Status))
		if err != nil {
			status = "error"
		}
		p.metrics.FinishRun(p.service, status, elapsed)
	}
	if err != nil {
		p.log.Error("pipeline.run.error", "invoice_id", req.InvoiceID, "error", err,
			"elapsed_ms", elapsed.Milliseconds())
		return out, err
	}
	p.log.Info("pipeline.run.done", "invoice_id", req.InvoiceID, "status", out.Status,
		"adapter_errors", len(out.Errors), "elapsed_ms", elapsed.Milliseconds())
	return out, nil
}

func buildMetadata(res *extract.ExtractionResult, start time.Time) entity.ProcessingMetadata {
	meta := entity.ProcessingMetadata{
		ExtractionMethod: strings.Join(res.Methods(), "+"),
		Confidence:       res.BestConfidence(),
		TimingMs:         time.Since(start).Milliseconds(),
	}
	for _, ae := range res.Errors {
		meta.Errors = append(meta.Errors, ae.Error())
	}
	return meta
}

func joinKinds(kinds []constants.AdapterKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, "+")
}
