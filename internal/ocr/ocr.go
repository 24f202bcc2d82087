package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/extract"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit

	TessdataDir string
	Preprocess  bool // enhance rasterized pages before OCR

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	ArtifactDir string        // scratch root; runs get their own subdirectory
	Timeout     time.Duration // per-extraction deadline, default 2m
}

// Extractor is the local OCR engine adapter. It tries the PDF's embedded
// text layer first and falls back to rasterize-then-tesseract for
// scanned documents.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "./tmp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Extractor{cfg: cfg, runner: execRunner{log: logger}, logger: logger}
}

func (e *Extractor) Kind() constants.AdapterKind { return constants.AdapterTesseract }

// Extract runs the text-layer fast path and, when that yields too little
// text, rasterizes and OCRs every page. All scratch files live in a
// run-scoped directory removed on every exit path.
func (e *Extractor) Extract(ctx context.Context, pdf []byte) (extract.RawExtraction, error) {
	start := time.Now()
	if !constants.LooksLikePDF(pdf) {
		return extract.RawExtraction{}, extract.NewRejected(e.Kind(), "input is not a PDF document", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	runDir, cleanup, err := e.runDir(ctx)
	if err != nil {
		return extract.RawExtraction{}, extract.NewUnavailable(e.Kind(), "create scratch dir", err)
	}
	defer cleanup()

	// Fast path: embedded text layer, no external binaries involved.
	if text, pages, ok := e.textLayer(pdf); ok {
		e.logger.Debug("ocr.textlayer.ok", "pages", pages, "bytes", len(text), "elapsed_ms", time.Since(start).Milliseconds())
		return extract.RawExtraction{
			Source:     e.Kind(),
			Text:       Normalize(text),
			Confidence: HeuristicConfidence(text),
			Timestamp:  time.Now().UTC(),
		}, nil
	}

	text, conf, pages, err := e.rasterOCR(ctx, pdf, runDir)
	if err != nil {
		return extract.RawExtraction{}, e.classify(ctx, err)
	}
	e.logger.Debug("ocr.raster.ok",
		"pages", pages,
		"bytes", len(text),
		"confidence", conf,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return extract.RawExtraction{
		Source:     e.Kind(),
		Text:       Normalize(text),
		Confidence: conf,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// runDir creates the per-run scratch directory, namespaced by the run ID
// from the context plus a timestamp so concurrent runs never collide.
func (e *Extractor) runDir(ctx context.Context) (string, func(), error) {
	runID := common.RunIDFromContext(ctx)
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	dir := filepath.Join(e.cfg.ArtifactDir, fmt.Sprintf("%s-%d", runID, time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("ocr.scratch.cleanup_failed", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// classify maps low-level failures onto the adapter error taxonomy.
func (e *Extractor) classify(ctx context.Context, err error) *extract.AdapterError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return extract.NewTimeout(e.Kind(), "ocr deadline exceeded", err)
	case errors.Is(err, exec.ErrNotFound):
		return extract.NewUnavailable(e.Kind(), "ocr binary not installed", err)
	case errors.Is(err, errNoPages):
		return extract.NewRejected(e.Kind(), "document rendered no pages", err)
	default:
		return extract.NewUnavailable(e.Kind(), "ocr failed", err)
	}
}
