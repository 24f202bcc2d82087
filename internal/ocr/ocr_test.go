package ocr

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/extract"
)

// fakeRunner simulates pdftoppm/tesseract. pdftoppm writes the page
// files its real counterpart would create.
type fakeRunner struct {
	tsv   string
	text  string
	pages int
	fail  error
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name)
	if f.fail != nil {
		return nil, []byte("boom"), f.fail
	}
	if strings.Contains(name, "pdftoppm") {
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			_ = os.WriteFile(prefix+"-"+strconv.Itoa(i)+".png", []byte("png"), 0o600)
		}
		return nil, nil, nil
	}
	if args[len(args)-1] == "tsv" {
		return []byte(f.tsv), nil, nil
	}
	return []byte(f.text), nil, nil
}

func newTestExtractor(t *testing.T, r Runner) *Extractor {
	t.Helper()
	e := NewExtractor(Config{ArtifactDir: t.TempDir(), Preprocess: false}, nil)
	e.runner = r
	return e
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t50\t12\t96\tInvoice\n" +
	"5\t1\t1\t1\t1\t2\t70\t10\t50\t12\t-1\t \n" +
	"5\t1\t1\t1\t1\t3\t130\t10\t50\t12\t88\tTotal\n"

func TestParseTSVConfidenceMeanOverScoredTokens(t *testing.T) {
	got := ParseTSVConfidence(sampleTSV)
	if got != 92 {
		t.Errorf("ParseTSVConfidence = %v, want 92 (mean of 96 and 88)", got)
	}
	if got := ParseTSVConfidence("header\n"); got != 0 {
		t.Errorf("no scored tokens should yield 0, got %v", got)
	}
}

func TestExtractRejectsNonPDF(t *testing.T) {
	e := newTestExtractor(t, &fakeRunner{})
	_, err := e.Extract(context.Background(), []byte("definitely not a pdf"))
	var ae *extract.AdapterError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AdapterError, got %v", err)
	}
	if ae.Reason != extract.ReasonRejected {
		t.Errorf("reason = %s, want rejected", ae.Reason)
	}
}

func TestExtractRasterPath(t *testing.T) {
	r := &fakeRunner{pages: 2, text: "Invoice No: INV-1\nTotal: 100.00\n", tsv: sampleTSV}
	e := newTestExtractor(t, r)

	// Minimal PDF header with no usable text layer forces the raster path.
	raw, err := e.Extract(context.Background(), []byte("%PDF-1.4 scanned"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if raw.Source != constants.AdapterTesseract {
		t.Errorf("source = %s, want tesseract", raw.Source)
	}
	if !strings.Contains(raw.Text, "INV-1") {
		t.Errorf("text missing OCR content: %q", raw.Text)
	}
	if !strings.Contains(raw.Text, "\f") {
		t.Error("multi-page output should keep the page break marker")
	}
	if raw.Confidence != 92 {
		t.Errorf("confidence = %v, want 92 from TSV", raw.Confidence)
	}
}

func TestExtractCleansUpScratchDir(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor(Config{ArtifactDir: dir, Preprocess: false}, nil)
	e.runner = &fakeRunner{pages: 1, text: "x", tsv: sampleTSV}

	if _, err := e.Extract(context.Background(), []byte("%PDF-1.4 scanned")); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read artifact dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dirs left behind: %d entries", len(entries))
	}
}

func TestClassifyTaxonomy(t *testing.T) {
	e := newTestExtractor(t, &fakeRunner{})

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if ae := e.classify(expired, context.DeadlineExceeded); ae.Reason != extract.ReasonTimeout {
		t.Errorf("deadline exceeded should classify as timeout, got %s", ae.Reason)
	}
	if ae := e.classify(context.Background(), exec.ErrNotFound); ae.Reason != extract.ReasonUnavailable {
		t.Errorf("missing binary should classify as unavailable, got %s", ae.Reason)
	}
	if ae := e.classify(context.Background(), errNoPages); ae.Reason != extract.ReasonRejected {
		t.Errorf("no pages should classify as rejected, got %s", ae.Reason)
	}
}

func TestRasterOCRFailurePropagates(t *testing.T) {
	e := newTestExtractor(t, &fakeRunner{fail: exec.ErrNotFound})
	_, err := e.Extract(context.Background(), []byte("%PDF-1.4 scanned"))
	var ae *extract.AdapterError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AdapterError, got %v", err)
	}
	if ae.Reason != extract.ReasonUnavailable {
		t.Errorf("reason = %s, want unavailable", ae.Reason)
	}
}

func TestNormalize(t *testing.T) {
	in := "Line one   \r\nLine two\t\n\n\n\nLine three\n"
	out := Normalize(in)
	if strings.Contains(out, "\r") || strings.Contains(out, "\n\n\n") {
		t.Errorf("Normalize left noise: %q", out)
	}
	if !strings.HasPrefix(out, "Line one") || !strings.HasSuffix(out, "Line three") {
		t.Errorf("Normalize mangled content: %q", out)
	}
}

func TestHeuristicConfidenceBounds(t *testing.T) {
	low := HeuristicConfidence("zz")
	high := HeuristicConfidence("Invoice No: INV-9 dated 2024-01-02 total ₹1,234.56 " + strings.Repeat("x", 150))
	if low >= high {
		t.Errorf("invoice-like text should score higher: low=%v high=%v", low, high)
	}
	if high > 100 {
		t.Errorf("confidence must stay within 0..100, got %v", high)
	}
}
