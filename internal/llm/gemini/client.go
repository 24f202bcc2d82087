package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/llm"
	"github.com/invoiceflow/pipeline/internal/ocr"
)

// generateContent request/response wire shapes (v1beta REST, snake_case).
type genRequest struct {
	Contents          []genContent  `json:"contents"`
	SystemInstruction *genContent   `json:"system_instruction,omitempty"`
	GenerationConfig  *genGenConfig `json:"generation_config,omitempty"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *genInlineData `json:"inline_data,omitempty"`
}

type genInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type genGenConfig struct {
	Temperature      float32 `json:"temperature,omitempty"`
	ResponseMIMEType string  `json:"response_mime_type,omitempty"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// Kind reports this client as the LLM adapter in extraction fan-out.
func (c *Client) Kind() constants.AdapterKind { return constants.AdapterGemini }

// Extract implements extract.Adapter: the PDF itself goes to the model
// as inline data and we ask for a faithful transcription. No token
// confidences come back, so the score is heuristic like the text-layer
// OCR path.
func (c *Client) Extract(ctx context.Context, pdf []byte) (extract.RawExtraction, error) {
	if !constants.LooksLikePDF(pdf) {
		return extract.RawExtraction{}, extract.NewRejected(c.Kind(), "input is not a PDF", nil)
	}

	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("gemini.transcribe.start", "req_id", rid, "model", c.cfg.Model, "pdf_bytes", len(pdf))

	body := genRequest{
		Contents: []genContent{{
			Role: "user",
			Parts: []genPart{
				{Text: "Transcribe every piece of text on this invoice exactly as printed, top to bottom, preserving line breaks. Output plain text only."},
				{InlineData: &genInlineData{
					MIMEType: "application/pdf",
					Data:     base64.StdEncoding.EncodeToString(pdf),
				}},
			},
		}},
		GenerationConfig: &genGenConfig{Temperature: 0},
	}

	raw, err := c.generate(ctx, body)
	if err != nil {
		aerr := c.classify(err)
		c.log.Error("gemini.transcribe.error", "req_id", rid, "error", aerr,
			"elapsed_ms", time.Since(start).Milliseconds())
		return extract.RawExtraction{}, aerr
	}

	text, err := firstCandidateText(raw)
	if err != nil {
		c.log.Error("gemini.transcribe.decode_error", "req_id", rid, "error", err)
		return extract.RawExtraction{}, extract.NewUnavailable(c.Kind(), "decode response", err)
	}

	text = ocr.Normalize(text)
	out := extract.RawExtraction{
		Source:     c.Kind(),
		Text:       text,
		Confidence: ocr.HeuristicConfidence(text),
		Timestamp:  time.Now().UTC(),
	}
	c.log.Info("gemini.transcribe.ok", "req_id", rid,
		"text_len", len(text), "confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// ExtractFields implements llm.FieldExtractor over the merged corpus.
// The model is constrained to JSON output; the reply is validated
// against our schema, with one lenient sanitize retry before giving up.
func (c *Client) ExtractFields(ctx context.Context, req llm.ExtractRequest) (llm.InvoiceFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"corpus_len", len(req.Corpus),
		"form_hints", len(req.FormHints),
		"default_currency", req.DefaultCurrency,
	)

	schema := llm.BuildInvoiceJSONSchema()
	sys := llm.BuildSystemPrompt(req)
	user := llm.BuildUserPrompt(req)

	body := genRequest{
		SystemInstruction: &genContent{
			Parts: []genPart{{Text: sys + "\n\nJSON Schema:\n" + mustJSON(schema)}},
		},
		Contents: []genContent{{
			Role:  "user",
			Parts: []genPart{{Text: user}},
		}},
		GenerationConfig: &genGenConfig{
			Temperature:      c.cfg.Temperature,
			ResponseMIMEType: "application/json",
		},
	}

	raw, err := c.generate(ctx, body)
	if err != nil {
		c.log.Error("llm.extract.http_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return llm.InvoiceFields{}, nil, err
	}

	content, err := firstCandidateText(raw)
	if err != nil {
		c.log.Error("llm.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds())
		return llm.InvoiceFields{}, raw, err
	}
	rawContent := []byte(strings.TrimSpace(content))

	if err := llm.ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		if c.cfg.StrictValidation {
			c.log.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", err, "content", string(rawContent),
				"elapsed_ms", time.Since(start).Milliseconds())
			return llm.InvoiceFields{}, rawContent, fmt.Errorf("schema validation failed: %w", err)
		}
		cleaned, dropped, sErr := llm.NormalizeAndSanitizeJSON(rawContent, c.log)
		if sErr != nil {
			c.log.Error("llm.extract.sanitize_failed", "req_id", rid, "error", sErr,
				"elapsed_ms", time.Since(start).Milliseconds())
			return llm.InvoiceFields{}, rawContent, fmt.Errorf("sanitize failed: %w", sErr)
		}
		if vErr := llm.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.log.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", vErr, "content", string(cleaned),
				"elapsed_ms", time.Since(start).Milliseconds())
			return llm.InvoiceFields{}, rawContent, fmt.Errorf("schema validation failed: %w", vErr)
		}
		c.log.Warn("llm.extract.lenient_sanitize_applied",
			"req_id", rid, "dropped", dropped,
			"elapsed_ms", time.Since(start).Milliseconds())
		rawContent = cleaned
	}

	var out llm.InvoiceFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.log.Error("llm.extract.unmarshal_failed", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return llm.InvoiceFields{}, rawContent, fmt.Errorf("unmarshal fields: %w", err)
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"invoice_number", out.InvoiceNumber,
		"date", out.InvoiceDate,
		"grand_total", out.GrandTotal,
		"currency", out.CurrencyCode,
		"line_items", len(out.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, rawContent, nil
}

// httpStatusError lets classify distinguish rejections from outages.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("gemini status %d: %s", e.status, e.body)
}

func (c *Client) generate(ctx context.Context, body genRequest) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model, c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini http error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("gemini response body close error", "error", err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{status: resp.StatusCode, body: buf.String()}
	}
	return buf.Bytes(), nil
}

func firstCandidateText(raw []byte) (string, error) {
	var gr genResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no candidates in gemini response")
	}
	var b strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// classify maps transport failures onto the adapter failure taxonomy.
func (c *Client) classify(err error) *extract.AdapterError {
	var aerr *extract.AdapterError
	if errors.As(err, &aerr) {
		return aerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return extract.NewTimeout(c.Kind(), "gemini call timed out", err)
	}
	var herr *httpStatusError
	if errors.As(err, &herr) {
		switch herr.status {
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge,
			http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
			return extract.NewRejected(c.Kind(), fmt.Sprintf("gemini rejected input (status %d)", herr.status), err)
		}
	}
	return extract.NewUnavailable(c.Kind(), "gemini unavailable", err)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
