package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

var errNoPages = errors.New("no pages rendered")

// minTextLayerBytes is the threshold below which an embedded text layer
// is treated as absent (scanned PDFs often carry a few stray glyphs).
const minTextLayerBytes = 64

// textLayer pulls embedded text straight from the PDF without spawning
// any process. ok is false when the document has no usable text layer.
func (e *Extractor) textLayer(raw []byte) (text string, pages int, ok bool) {
	defer func() {
		// The pdf package panics on some malformed cross-reference
		// tables; treat that as "no text layer" and fall through to OCR.
		if r := recover(); r != nil {
			e.logger.Warn("ocr.textlayer.panic", "recovered", fmt.Sprint(r))
			text, pages, ok = "", 0, false
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", 0, false
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", 0, false
	}
	var b strings.Builder
	if _, err := io.Copy(&b, rd); err != nil {
		return "", 0, false
	}
	text = b.String()
	if len(strings.TrimSpace(text)) < minTextLayerBytes {
		return "", 0, false
	}
	return text, r.NumPage(), true
}

// rasterOCR writes the PDF into the run directory, renders each page to
// PNG with pdftoppm, optionally enhances the images, and OCRs them one
// by one. The returned confidence is the mean tesseract word confidence
// across pages (0..100), 0 when TSV scoring yields nothing.
func (e *Extractor) rasterOCR(ctx context.Context, raw []byte, runDir string) (string, float64, int, error) {
	in := filepath.Join(runDir, "input.pdf")
	if err := os.WriteFile(in, raw, 0o600); err != nil {
		return "", 0, 0, fmt.Errorf("write scratch pdf: %w", err)
	}

	prefix := filepath.Join(runDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <runDir/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", in, prefix)
	if err != nil {
		return "", 0, 0, fmt.Errorf("pdftoppm: %w (stderr: %s)", err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, 0, errNoPages
	}

	var b strings.Builder
	var confs []float64
	for _, img := range matches {
		page := img
		if e.cfg.Preprocess {
			if enhanced, perr := enhanceForOCR(img); perr == nil {
				page = enhanced
			} else {
				e.logger.Warn("ocr.preprocess.failed", "image", img, "error", perr)
			}
		}
		txt, err := e.tesseractOCR(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, 0, err
			}
			e.logger.Warn("ocr.page.failed", "image", img, "error", err)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(txt)

		if c, err := e.tesseractTSVConfidence(ctx, page); err == nil && c > 0 {
			confs = append(confs, c)
		}
	}
	var conf float64
	if len(confs) > 0 {
		var sum float64
		for _, c := range confs {
			sum += c
		}
		conf = sum / float64(len(confs))
	}
	return b.String(), conf, len(matches), nil
}
