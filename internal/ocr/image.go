package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/invoiceflow/pipeline/internal/extract"
)

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", fmt.Sprintf("%d", e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w (stderr: %s)", err, truncate(string(errb), 512))
	}
	return string(out), nil
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns the mean
// word confidence in 0..100. Tokens scored -1 or 0 are unscored and
// excluded; no scored tokens yields 0, not an error.
func (e *Extractor) tesseractTSVConfidence(ctx context.Context, path string) (float64, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	// TSV output
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w (stderr: %s)", err, truncate(string(errb), 512))
	}
	return ParseTSVConfidence(string(out)), nil
}

// ParseTSVConfidence extracts the conf column from tesseract TSV output
// and aggregates it per the mean-over-scored-tokens rule.
func ParseTSVConfidence(tsv string) float64 {
	lines := strings.Split(tsv, "\n")
	var scores []float64
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue // skip header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[10]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			scores = append(scores, v)
		}
	}
	return extract.MeanConfidence(scores)
}
