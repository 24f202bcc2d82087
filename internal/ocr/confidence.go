package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b(20\d{2})\b`)
	reCurr   = regexp.MustCompile(`\b(usd|eur|gbp|inr|aud|jpy)\b|[$£€₹]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{2,3})*(\.\d{2})\b|\b\d+\.\d{2}\b`)
	reInvNo  = regexp.MustCompile(`\b(invoice|inv|bill)[\s#:.-]*(no|number)?\b`)
)

// Normalize collapses whitespace noise from OCR output while keeping
// line and page structure intact.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

// HeuristicConfidence scores text-layer extractions, which carry no
// engine token confidences. Invoice artifacts (dates, currency, amounts,
// an invoice-number label) each add to a base score; scale is 0..100 to
// match engine-reported confidence.
func HeuristicConfidence(txt string) float64 {
	txtL := strings.ToLower(txt)
	score := 20.0
	if reDate.MatchString(txtL) {
		score += 20
	}
	if reCurr.MatchString(txtL) {
		score += 15
	}
	if reAmount.MatchString(txtL) {
		score += 15
	}
	if reInvNo.MatchString(txtL) {
		score += 15
	}
	if len(txt) > 120 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}
