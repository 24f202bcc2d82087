package structurer

import (
	"regexp"
	"strings"

	"github.com/invoiceflow/pipeline/internal/entity"
)

// Rule-based extraction over the text corpus. Structured form fields
// from document analysis take precedence over regex hits; the corpus
// fills the gaps.
var (
	reRuleInvNo = regexp.MustCompile(`(?i)(?:invoice|bill)\s*(?:no|number|num|#)?\s*[:#.\-]?\s*([A-Za-z0-9][A-Za-z0-9/\-]{2,})`)
	reRuleTotal = regexp.MustCompile(`(?i)\b(?:grand\s*total|total\s*amount|amount\s*payable|net\s*payable|total)\b\s*[:\-]?\s*(?:₹|Rs\.?\s*|INR\s*)?([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
	reRuleDate  = regexp.MustCompile(`(?i)(?:invoice\s*)?date\s*[:\-]?\s*([0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{1,2}[-/.][0-9]{1,2}[-/.][0-9]{2,4}|[0-9]{1,2}\s+[A-Za-z]{3,9},?\s+[0-9]{4})`)
	reRuleGSTIN = regexp.MustCompile(`(?i)GSTIN\s*[:\-]?\s*([0-9A-Z]{15})`)
)

// hint keys structured adapters commonly emit.
var (
	invNoHintKeys = []string{"invoice number", "invoice no", "invoice no.", "invoice #", "bill no"}
	totalHintKeys = []string{"grand total", "total amount", "amount payable", "total"}
	dateHintKeys  = []string{"invoice date", "date"}
)

// fromRules builds a structure from hints and regex passes. ok is false
// when neither an invoice number nor a total could be found, which is
// the rule-based path's conformance floor.
func (s *Structurer) fromRules(corpus string, hints map[string]string) (entity.InvoiceStructure, bool) {
	var w []string
	st := entity.InvoiceStructure{}

	invNo := firstHint(hints, invNoHintKeys)
	if invNo == "" {
		// Prefer a capture that carries a digit; "Invoice Date" would
		// otherwise shadow the real number.
		for _, m := range reRuleInvNo.FindAllStringSubmatch(corpus, 5) {
			if invNo == "" {
				invNo = m[1]
			}
			if strings.ContainsAny(m[1], "0123456789") {
				invNo = m[1]
				break
			}
		}
	}
	st.InvoiceNumber = strings.TrimSpace(invNo)

	totalRaw := firstHint(hints, totalHintKeys)
	totalFound := totalRaw != ""
	if totalRaw == "" {
		if m := reRuleTotal.FindStringSubmatch(corpus); m != nil {
			totalRaw = m[1]
			totalFound = true
		}
	}
	if totalFound {
		amt, ok := ParseMoney(totalRaw)
		if !ok {
			w = append(w, warnf("malformed amount in grand_total: %q", totalRaw))
			totalFound = false
		}
		st.Totals.GrandTotal = amt
	}

	if st.InvoiceNumber == "" && !totalFound {
		return entity.InvoiceStructure{}, false
	}

	dateRaw := firstHint(hints, dateHintKeys)
	if dateRaw == "" {
		if m := reRuleDate.FindStringSubmatch(corpus); m != nil {
			dateRaw = m[1]
		}
	}
	if dateRaw != "" {
		d, ok := NormalizeDate(dateRaw)
		if !ok {
			w = append(w, warnf("unparseable date in invoice_date: %q", dateRaw))
		}
		st.InvoiceDate = d
	}

	if m := reRuleGSTIN.FindStringSubmatch(corpus); m != nil {
		st.Vendor.GSTIN = strings.ToUpper(m[1])
	}
	st.Vendor.Name = vendorNameGuess(corpus)

	st.Warnings = w
	return st, true
}

func firstHint(hints map[string]string, keys []string) string {
	for _, k := range keys {
		if v, ok := hints[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// vendorNameGuess takes the first line that is not a document banner.
func vendorNameGuess(corpus string) string {
	for _, ln := range strings.Split(corpus, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		up := strings.ToUpper(ln)
		if up == "TAX INVOICE" || up == "INVOICE" || up == "BILL" || up == "PROFORMA INVOICE" {
			continue
		}
		return ln
	}
	return ""
}
