package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/llm"
)

func candidateReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	})
	return string(b)
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, nil)
	return c, srv
}

func TestExtract_TranscribesPDF(t *testing.T) {
	var gotPath string
	var gotBody genRequest
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(candidateReply("TAX INVOICE\nInvoice No: INV-77\nTotal: ₹1,234.56")))
	})

	out, err := c.Extract(context.Background(), []byte("%PDF-1.7 fake"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.Source != constants.AdapterGemini {
		t.Errorf("source = %q, want gemini", out.Source)
	}
	if !strings.Contains(out.Text, "INV-77") {
		t.Errorf("text = %q, want transcription", out.Text)
	}
	if out.Confidence <= 0 || out.Confidence > 100 {
		t.Errorf("confidence = %v, want (0,100]", out.Confidence)
	}
	if !strings.Contains(gotPath, "gemini-2.0-flash:generateContent") {
		t.Errorf("path = %q, want generateContent for default model", gotPath)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[1].InlineData == nil {
		t.Fatal("request missing inline PDF part")
	}
	if mt := gotBody.Contents[0].Parts[1].InlineData.MIMEType; mt != "application/pdf" {
		t.Errorf("inline mime = %q", mt)
	}
}

func TestExtract_RejectsNonPDFWithoutCalling(t *testing.T) {
	called := false
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.Extract(context.Background(), []byte("plain text"))
	var aerr *extract.AdapterError
	if !errors.As(err, &aerr) || aerr.Reason != extract.ReasonRejected {
		t.Fatalf("err = %v, want rejected AdapterError", err)
	}
	if called {
		t.Error("server should not be hit for non-PDF input")
	}
}

func TestExtract_ClassifiesHTTPFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   extract.FailureReason
	}{
		{"bad request is rejected", http.StatusBadRequest, extract.ReasonRejected},
		{"too large is rejected", http.StatusRequestEntityTooLarge, extract.ReasonRejected},
		{"server error is unavailable", http.StatusInternalServerError, extract.ReasonUnavailable},
		{"rate limit is unavailable", http.StatusTooManyRequests, extract.ReasonUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			})
			_, err := c.Extract(context.Background(), []byte("%PDF-1.4"))
			var aerr *extract.AdapterError
			if !errors.As(err, &aerr) {
				t.Fatalf("err = %v, want AdapterError", err)
			}
			if aerr.Reason != tc.want {
				t.Errorf("reason = %q, want %q", aerr.Reason, tc.want)
			}
		})
	}
}

func TestExtract_TimeoutClassified(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect
		// and cancels the request context; otherwise Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Extract(ctx, []byte("%PDF-1.4"))
	var aerr *extract.AdapterError
	if !errors.As(err, &aerr) || aerr.Reason != extract.ReasonTimeout {
		t.Fatalf("err = %v, want timeout AdapterError", err)
	}
}

func TestExtractFields_ValidResponse(t *testing.T) {
	fieldsJSON := `{
		"invoice_number": "INV-2024-0156",
		"invoice_date": "2024-03-15",
		"vendor": {"name": "Acme Traders", "gstin": "27AAACA1234F1Z5"},
		"line_items": [{"description": "Steel pipes", "hsn_code": "7306", "quantity": "10", "rate": "11500", "line_total": "115000"}],
		"subtotal": "115000",
		"total_tax": "20700",
		"grand_total": "135700",
		"currency_code": "INR"
	}`
	var gotBody genRequest
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(candidateReply(fieldsJSON)))
	})

	out, raw, err := c.ExtractFields(context.Background(), llm.ExtractRequest{
		Corpus:    "TAX INVOICE ...",
		FormHints: map[string]string{"invoice no": "INV-2024-0156"},
	})
	if err != nil {
		t.Fatalf("extract fields: %v", err)
	}
	if out.InvoiceNumber != "INV-2024-0156" || out.GrandTotal != "135700" || out.CurrencyCode != "INR" {
		t.Errorf("fields = %+v", out)
	}
	if len(out.LineItems) != 1 || out.LineItems[0].HSNCode != "7306" {
		t.Errorf("line items = %+v", out.LineItems)
	}
	if len(raw) == 0 {
		t.Error("raw JSON should be returned for audit storage")
	}
	if gotBody.GenerationConfig == nil || gotBody.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Error("request should force JSON response mime type")
	}
	if gotBody.SystemInstruction == nil || !strings.Contains(gotBody.SystemInstruction.Parts[0].Text, "JSON Schema") {
		t.Error("system instruction should carry the schema")
	}
}

func TestExtractFields_LenientSanitizeRepairsReply(t *testing.T) {
	// Model drifts from the schema: numeric total, synonym key, junk field.
	drifted := `{
		"invoice_number": "INV-9",
		"vendor": {"name": "V"},
		"total": 1500,
		"currency_code": "inr",
		"reasoning": "because"
	}`
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(candidateReply(drifted)))
	})

	out, _, err := c.ExtractFields(context.Background(), llm.ExtractRequest{Corpus: "x"})
	if err != nil {
		t.Fatalf("lenient path should recover: %v", err)
	}
	if out.GrandTotal != "1500" {
		t.Errorf("grand_total = %q, want 1500", out.GrandTotal)
	}
	if out.CurrencyCode != "INR" {
		t.Errorf("currency = %q, want INR", out.CurrencyCode)
	}
}

func TestExtractFields_UnrepairableReplyFails(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(candidateReply(`{"vendor": {"name": "V"}}`)))
	})

	_, _, err := c.ExtractFields(context.Background(), llm.ExtractRequest{Corpus: "x"})
	if err == nil {
		t.Fatal("reply missing required fields should fail validation")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k"}, nil)
	if c.cfg.Model != "gemini-2.0-flash" {
		t.Errorf("model default = %q", c.cfg.Model)
	}
	if c.cfg.BaseURL == "" || c.cfg.Timeout <= 0 || c.cfg.StrictValidation {
		t.Errorf("defaults not applied: %+v", c.cfg)
	}
}

func TestExtractFields_StrictValidationSkipsSanitize(t *testing.T) {
	// Same drift the lenient path repairs; strict mode must fail
	// without touching the reply.
	drifted := `{
		"invoice_number": "INV-9",
		"vendor": {"name": "V"},
		"total": 1500,
		"currency_code": "inr"
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(candidateReply(drifted)))
	}))
	defer srv.Close()
	c := NewClient(Config{
		APIKey:           "test-key",
		BaseURL:          srv.URL,
		Timeout:          5 * time.Second,
		StrictValidation: true,
	}, nil)

	_, raw, err := c.ExtractFields(context.Background(), llm.ExtractRequest{Corpus: "x"})
	if err == nil {
		t.Fatal("strict mode should reject a schema-violating reply")
	}
	if !strings.Contains(string(raw), `"total": 1500`) {
		t.Errorf("raw reply should be returned unsanitized, got %s", raw)
	}
}
