package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/entity"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/llm"
	"github.com/invoiceflow/pipeline/internal/progress"
	"github.com/invoiceflow/pipeline/internal/structurer"
)

type fakeAdapter struct {
	kind  constants.AdapterKind
	text  string
	err   error
	delay time.Duration
}

func (f *fakeAdapter) Kind() constants.AdapterKind { return f.kind }

func (f *fakeAdapter) Extract(ctx context.Context, _ []byte) (extract.RawExtraction, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return extract.RawExtraction{}, extract.NewTimeout(f.kind, "deadline", ctx.Err())
		}
	}
	if f.err != nil {
		return extract.RawExtraction{}, f.err
	}
	return extract.RawExtraction{
		Source:     f.kind,
		Text:       f.text,
		Confidence: 90,
		Timestamp:  time.Now().UTC(),
	}, nil
}

type stageChange struct {
	stage  constants.ProcessingStage
	detail string
}

type fakeStore struct {
	mu         sync.Mutex
	stages     []stageChange
	saved      *entity.InvoiceStructure
	savedMeta  *entity.ProcessingMetadata
	failedMeta *entity.ProcessingMetadata
	stageErr   error
}

func (s *fakeStore) UpdateStage(_ context.Context, _ uuid.UUID, stage constants.ProcessingStage, detail string) error {
	if s.stageErr != nil {
		return s.stageErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stageChange{stage, detail})
	return nil
}

func (s *fakeStore) SaveStructure(_ context.Context, _ uuid.UUID, st entity.InvoiceStructure, meta entity.ProcessingMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &st
	s.savedMeta = &meta
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, _ uuid.UUID, meta entity.ProcessingMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedMeta = &meta
	return nil
}

type recordingReporter struct {
	mu     sync.Mutex
	stages []string
}

func (r *recordingReporter) Publish(_ context.Context, ev entity.StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, ev.Stage)
}

func corpusText() string {
	return "TAX INVOICE\nAcme Traders\nInvoice No: INV-2024-0156\nTotal Amount: 135700"
}

func newTestProcessor(store *fakeStore, rep progress.Reporter, adapters ...extract.Adapter) *Processor {
	orch := NewOrchestrator(adapters, time.Second, nil, nil)
	s := structurer.New(structurer.Config{}, nil, nil)
	return NewProcessor(orch, s, store, rep, nil, nil)
}

func TestProcess_HappyPath(t *testing.T) {
	store := &fakeStore{}
	rep := &recordingReporter{}
	p := newTestProcessor(store, rep,
		&fakeAdapter{kind: constants.AdapterTesseract, text: corpusText()})

	out, err := p.Process(context.Background(), RunRequest{
		InvoiceID: uuid.New(),
		FileName:  "acme.pdf",
		PDF:       []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != constants.StageStructuringDone {
		t.Errorf("status = %s", out.Status)
	}
	if out.Structure == nil || out.Structure.InvoiceNumber != "INV-2024-0156" {
		t.Fatalf("structure = %+v", out.Structure)
	}
	if out.Structure.Totals.GrandTotal != 135700.0 {
		t.Errorf("grand total = %v", out.Structure.Totals.GrandTotal)
	}

	wantStages := []constants.ProcessingStage{
		constants.StageOCRRunning,
		constants.StageOCRDone,
		constants.StageStructuringRunning,
		constants.StageStructuringDone,
	}
	var gotStages []constants.ProcessingStage
	for _, c := range store.stages {
		gotStages = append(gotStages, c.stage)
	}
	if !reflect.DeepEqual(gotStages, wantStages) {
		t.Errorf("stage sequence = %v, want %v", gotStages, wantStages)
	}
	if len(rep.stages) != len(wantStages) {
		t.Errorf("published %d events, want %d", len(rep.stages), len(wantStages))
	}
	if store.saved == nil || store.savedMeta == nil {
		t.Fatal("structure/metadata not persisted")
	}
	if store.savedMeta.ExtractionMethod != "tesseract" {
		t.Errorf("extraction method = %q", store.savedMeta.ExtractionMethod)
	}
}

func TestProcess_PartialFailureContinues(t *testing.T) {
	store := &fakeStore{}
	p := newTestProcessor(store, nil,
		&fakeAdapter{kind: constants.AdapterDocAI, text: corpusText()},
		&fakeAdapter{kind: constants.AdapterTesseract, delay: 5 * time.Second}) // will time out

	out, err := p.Process(context.Background(), RunRequest{
		InvoiceID: uuid.New(),
		PDF:       []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != constants.StageStructuringDone {
		t.Errorf("status = %s, want success despite one timeout", out.Status)
	}
	if len(out.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly the timed-out adapter", out.Errors)
	}
	if out.Errors[0].Adapter != constants.AdapterTesseract || out.Errors[0].Reason != extract.ReasonTimeout {
		t.Errorf("error = %+v", out.Errors[0])
	}
	if out.Metadata.ExtractionMethod != "docai" {
		t.Errorf("extraction method = %q, only the successful adapter should count", out.Metadata.ExtractionMethod)
	}
}

func TestProcess_AllAdaptersFail(t *testing.T) {
	store := &fakeStore{}
	rep := &recordingReporter{}
	structureCalled := false
	s := structurer.New(structurer.Config{}, failingExtractor{onCall: func() { structureCalled = true }}, nil)
	orch := NewOrchestrator([]extract.Adapter{
		&fakeAdapter{kind: constants.AdapterDocAI, err: extract.NewUnavailable(constants.AdapterDocAI, "down", nil)},
		&fakeAdapter{kind: constants.AdapterTesseract, err: extract.NewRejected(constants.AdapterTesseract, "bad input", nil)},
	}, time.Second, nil, nil)
	p := NewProcessor(orch, s, store, rep, nil, nil)

	out, err := p.Process(context.Background(), RunRequest{InvoiceID: uuid.New(), PDF: []byte("%PDF-1.4")})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != constants.StageFailed {
		t.Errorf("status = %s, want FAILED", out.Status)
	}
	if len(out.Errors) != 2 {
		t.Errorf("errors = %v, want both adapter failures", out.Errors)
	}
	if structureCalled {
		t.Error("structure() must never be invoked with zero successes")
	}
	if store.failedMeta == nil || len(store.failedMeta.Errors) != 2 {
		t.Errorf("failure metadata = %+v", store.failedMeta)
	}
	if got := rep.stages[len(rep.stages)-1]; got != string(constants.StageFailed) {
		t.Errorf("last published stage = %s", got)
	}
}

func TestProcess_StructuringFailureFailsRun(t *testing.T) {
	store := &fakeStore{}
	p := newTestProcessor(store, nil,
		&fakeAdapter{kind: constants.AdapterTesseract, text: "no recognizable fields here"})

	out, err := p.Process(context.Background(), RunRequest{InvoiceID: uuid.New(), PDF: []byte("%PDF-1.4")})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != constants.StageFailed {
		t.Errorf("status = %s, want FAILED on structuring failure", out.Status)
	}
	if out.Structure != nil {
		t.Error("no partial structure may escape a failed run")
	}
	if store.failedMeta == nil || len(store.failedMeta.Errors) == 0 {
		t.Errorf("failure metadata should carry the structuring error: %+v", store.failedMeta)
	}
}

func TestProcess_StoreErrorPropagates(t *testing.T) {
	store := &fakeStore{stageErr: errors.New("db down")}
	p := newTestProcessor(store, nil,
		&fakeAdapter{kind: constants.AdapterTesseract, text: corpusText()})

	_, err := p.Process(context.Background(), RunRequest{InvoiceID: uuid.New(), PDF: []byte("%PDF-1.4")})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("err = %v, want store error", err)
	}
}

func TestOrchestrator_DeterministicErrorOrder(t *testing.T) {
	// Gemini fails fast, docai fails slow: arrival order is reversed
	// from canonical order, recorded order must not be.
	adapters := []extract.Adapter{
		&fakeAdapter{kind: constants.AdapterDocAI, delay: 50 * time.Millisecond,
			err: extract.NewUnavailable(constants.AdapterDocAI, "down", nil)},
		&fakeAdapter{kind: constants.AdapterGemini,
			err: extract.NewUnavailable(constants.AdapterGemini, "down", nil)},
		&fakeAdapter{kind: constants.AdapterTesseract, text: "hello"},
	}
	orch := NewOrchestrator(adapters, time.Second, nil, nil)

	for range 3 {
		res := orch.Run(context.Background(), []byte("%PDF-1.4"), constants.AdapterOrder)
		if len(res.Errors) != 2 {
			t.Fatalf("errors = %v", res.Errors)
		}
		if res.Errors[0].Adapter != constants.AdapterDocAI || res.Errors[1].Adapter != constants.AdapterGemini {
			t.Errorf("error order = %s,%s; want canonical", res.Errors[0].Adapter, res.Errors[1].Adapter)
		}
	}
}

func TestOrchestrator_UnregisteredKindRecorded(t *testing.T) {
	orch := NewOrchestrator([]extract.Adapter{
		&fakeAdapter{kind: constants.AdapterTesseract, text: "hi"},
	}, time.Second, nil, nil)

	res := orch.Run(context.Background(), []byte("%PDF-1.4"),
		[]constants.AdapterKind{constants.AdapterTesseract, constants.AdapterDocAI})
	if !res.Succeeded() {
		t.Fatal("registered adapter should succeed")
	}
	if len(res.Errors) != 1 || res.Errors[0].Adapter != constants.AdapterDocAI {
		t.Errorf("errors = %v, want unavailable for unregistered docai", res.Errors)
	}
}

func TestOrchestrator_CancellationPropagates(t *testing.T) {
	slow := &fakeAdapter{kind: constants.AdapterTesseract, delay: 5 * time.Second, text: "x"}
	orch := NewOrchestrator([]extract.Adapter{slow}, time.Minute, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := orch.Run(ctx, []byte("%PDF-1.4"), []constants.AdapterKind{constants.AdapterTesseract})
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancellation did not propagate to in-flight adapter")
	}
	if res.Succeeded() {
		t.Error("cancelled adapter should not record a success")
	}
}

// failingExtractor records that it was invoked, then errors.
type failingExtractor struct{ onCall func() }

func (f failingExtractor) ExtractFields(_ context.Context, _ llm.ExtractRequest) (llm.InvoiceFields, []byte, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return llm.InvoiceFields{}, nil, errors.New("extractor should not run")
}
