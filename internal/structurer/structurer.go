// Package structurer maps merged extraction output into the canonical
// invoice schema. The AI path asks a field extractor for typed fields;
// when no extractor is configured or the call fails, a rule-based pass
// over the text corpus fills in what it can. Either way the result is
// schema-complete: strings default to "", money to 0.0, currency to the
// configured default.
package structurer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/entity"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/llm"
)

// StructuringFailure means no structuring path produced a
// schema-conformant result even after default-filling. RawText carries
// the unstructured corpus for manual handling.
type StructuringFailure struct {
	RawText string
	Cause   error
}

func (e *StructuringFailure) Error() string {
	return fmt.Sprintf("structuring failed: %v", e.Cause)
}

func (e *StructuringFailure) Unwrap() error { return e.Cause }

// Config tunes the structurer.
type Config struct {
	DefaultCurrency string // default constants.DefaultCurrency
}

type Structurer struct {
	cfg       Config
	extractor llm.FieldExtractor // nil means rule-based only
	log       *slog.Logger
}

func New(cfg Config, extractor llm.FieldExtractor, logger *slog.Logger) *Structurer {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = constants.DefaultCurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Structurer{cfg: cfg, extractor: extractor, log: logger}
}

// Structure turns a merged extraction into an InvoiceStructure. The
// caller guarantees at least one successful adapter. Returns a
// *StructuringFailure when neither path can produce a conformant
// result.
func (s *Structurer) Structure(ctx context.Context, res *extract.ExtractionResult, fileNameHint string) (entity.InvoiceStructure, error) {
	start := time.Now()
	corpus := res.Corpus()
	hints := formHintMap(res)

	if s.extractor != nil {
		fields, _, err := s.extractor.ExtractFields(ctx, llm.ExtractRequest{
			Corpus:          corpus,
			FormHints:       hints,
			FileNameHint:    fileNameHint,
			DefaultCurrency: s.cfg.DefaultCurrency,
		})
		if err == nil {
			st := s.fromFields(fields)
			s.finish(&st)
			s.log.Info("structurer.ok", "path", "llm",
				"invoice_number", st.InvoiceNumber,
				"grand_total", st.Totals.GrandTotal,
				"flagged", st.Flagged,
				"warnings", len(st.Warnings),
				"elapsed_ms", time.Since(start).Milliseconds())
			return st, nil
		}
		s.log.Warn("structurer.llm_failed_falling_back", "error", err)
	}

	st, ok := s.fromRules(corpus, hints)
	if !ok {
		s.log.Error("structurer.failed", "corpus_len", len(corpus))
		return entity.InvoiceStructure{}, &StructuringFailure{
			RawText: corpus,
			Cause:   fmt.Errorf("no invoice number or total found in corpus"),
		}
	}
	s.finish(&st)
	s.log.Info("structurer.ok", "path", "rules",
		"invoice_number", st.InvoiceNumber,
		"grand_total", st.Totals.GrandTotal,
		"flagged", st.Flagged,
		"warnings", len(st.Warnings),
		"elapsed_ms", time.Since(start).Milliseconds())
	return st, nil
}

// fromFields maps validated LLM output onto the entity schema, parsing
// decimal strings tolerantly and collecting warnings.
func (s *Structurer) fromFields(f llm.InvoiceFields) entity.InvoiceStructure {
	var w []string

	money := func(field, v string) float64 {
		amt, ok := ParseMoney(v)
		if !ok {
			w = append(w, warnf("malformed amount in %s: %q", field, v))
		}
		return amt
	}
	date := func(field, v string) string {
		d, ok := NormalizeDate(v)
		if !ok {
			w = append(w, warnf("unparseable date in %s: %q", field, v))
		}
		return d
	}

	st := entity.InvoiceStructure{
		InvoiceNumber: strings.TrimSpace(f.InvoiceNumber),
		InvoiceDate:   date("invoice_date", f.InvoiceDate),
		DueDate:       date("due_date", f.DueDate),
		Vendor:        party(f.Vendor),
		Customer:      party(f.Customer),
		Notes:         strings.TrimSpace(f.Notes),
		CurrencyCode:  strings.ToUpper(strings.TrimSpace(f.CurrencyCode)),
		Totals: entity.Totals{
			Subtotal:      money("subtotal", f.Subtotal),
			TotalDiscount: money("total_discount", f.TotalDiscount),
			TotalTax:      money("total_tax", f.TotalTax),
			RoundOff:      money("round_off", f.RoundOff),
			GrandTotal:    money("grand_total", f.GrandTotal),
		},
		Payment: entity.Payment{
			Method:        strings.TrimSpace(f.Payment.Method),
			BankName:      strings.TrimSpace(f.Payment.BankName),
			AccountNumber: strings.TrimSpace(f.Payment.AccountNumber),
			IFSCCode:      strings.TrimSpace(f.Payment.IFSCCode),
			UPIID:         strings.TrimSpace(f.Payment.UPIID),
		},
	}

	for i, li := range f.LineItems {
		item := entity.LineItem{
			Description:   strings.TrimSpace(li.Description),
			HSNCode:       strings.TrimSpace(li.HSNCode),
			Quantity:      money(warnf("line_items[%d].quantity", i), li.Quantity),
			Rate:          money(warnf("line_items[%d].rate", i), li.Rate),
			TaxableAmount: money(warnf("line_items[%d].taxable_amount", i), li.TaxableAmount),
			CGSTRate:      money(warnf("line_items[%d].cgst_rate", i), li.CGSTRate),
			CGSTAmount:    money(warnf("line_items[%d].cgst_amount", i), li.CGSTAmount),
			SGSTRate:      money(warnf("line_items[%d].sgst_rate", i), li.SGSTRate),
			SGSTAmount:    money(warnf("line_items[%d].sgst_amount", i), li.SGSTAmount),
			IGSTRate:      money(warnf("line_items[%d].igst_rate", i), li.IGSTRate),
			IGSTAmount:    money(warnf("line_items[%d].igst_amount", i), li.IGSTAmount),
			LineTotal:     money(warnf("line_items[%d].line_total", i), li.LineTotal),
		}
		st.LineItems = append(st.LineItems, item)
	}

	st.Warnings = w
	return st
}

func party(p llm.PartyFields) entity.Party {
	return entity.Party{
		Name:    strings.TrimSpace(p.Name),
		Address: strings.TrimSpace(p.Address),
		GSTIN:   strings.ToUpper(strings.TrimSpace(p.GSTIN)),
		Phone:   strings.TrimSpace(p.Phone),
		Email:   strings.TrimSpace(p.Email),
	}
}

// finish applies defaults, tax-ID checks and the totals-consistency
// check. Violations flag the structure; nothing blocks persistence.
func (s *Structurer) finish(st *entity.InvoiceStructure) {
	if st.CurrencyCode == "" {
		st.CurrencyCode = s.cfg.DefaultCurrency
	}
	if st.LineItems == nil {
		st.LineItems = []entity.LineItem{}
	}
	if st.Warnings == nil {
		st.Warnings = []string{}
	}

	if st.Vendor.GSTIN != "" && !ValidGSTIN(st.Vendor.GSTIN) {
		st.Warnings = append(st.Warnings, warnf("vendor GSTIN %q does not match the expected pattern", st.Vendor.GSTIN))
	}
	if st.Customer.GSTIN != "" && !ValidGSTIN(st.Customer.GSTIN) {
		st.Warnings = append(st.Warnings, warnf("customer GSTIN %q does not match the expected pattern", st.Customer.GSTIN))
	}
	for i, li := range st.LineItems {
		if li.LineTotal != 0 && !li.Consistent() {
			st.Warnings = append(st.Warnings, warnf("line_items[%d] total does not reconcile with its tax breakdown", i))
		}
	}

	// Totals reconciliation runs last. Only meaningful when at least
	// one component was extracted; a bare grand total has nothing to
	// check.
	t := st.Totals
	hasComponents := t.Subtotal != 0 || t.TotalDiscount != 0 || t.TotalTax != 0 || t.RoundOff != 0
	if hasComponents && !t.Consistent() {
		st.Flagged = true
		st.FlagReason = entity.FlagTotalsMismatch
	}
}

func formHintMap(res *extract.ExtractionResult) map[string]string {
	fields := res.MergedFormFields()
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[strings.ToLower(strings.TrimSpace(f.Key))] = strings.TrimSpace(f.Value)
	}
	return out
}
