package docai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/extract"
)

// Config for the cloud document-AI client.
type Config struct {
	Endpoint string        // base URL of the analyze service
	APIKey   string        // sent as Ocp-Apim-Subscription-Key
	Timeout  time.Duration // per-call deadline, default 60s

	// Breaker tuning; zero values take gobreaker defaults.
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// Client is the cloud document-AI adapter. The analyze endpoint returns
// full text plus recognized key-value pairs and tables with per-word
// confidences; a circuit breaker sheds load when the service is down.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "docai",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		IsSuccessful: func(err error) bool {
			// Rejected inputs are the caller's problem, not the service's;
			// they must not trip the breaker.
			var ae *extract.AdapterError
			if errors.As(err, &ae) && ae.Reason == extract.ReasonRejected {
				return true
			}
			return err == nil
		},
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](st),
		logger:  logger,
	}
}

func (c *Client) Kind() constants.AdapterKind { return constants.AdapterDocAI }

// Extract sends the PDF to the analyze endpoint and normalizes the
// response into a RawExtraction at this boundary; no provider-shaped
// data crosses into the orchestrator.
func (c *Client) Extract(ctx context.Context, pdf []byte) (extract.RawExtraction, error) {
	start := time.Now()
	if !constants.LooksLikePDF(pdf) {
		return extract.RawExtraction{}, extract.NewRejected(c.Kind(), "input is not a PDF document", nil)
	}
	if c.cfg.Endpoint == "" {
		return extract.RawExtraction{}, extract.NewUnavailable(c.Kind(), "docai endpoint not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	c.logger.Info("docai.analyze.start", "bytes", len(pdf))

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.analyze(ctx, pdf)
	})
	if err != nil {
		c.logger.Error("docai.analyze.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return extract.RawExtraction{}, c.classify(ctx, err)
	}

	out, err := parseAnalyzeResponse(c.Kind(), raw)
	if err != nil {
		c.logger.Error("docai.analyze.decode_failed", "error", err, "raw_bytes", len(raw))
		return extract.RawExtraction{}, extract.NewUnavailable(c.Kind(), "decode analyze response", err)
	}

	c.logger.Info("docai.analyze.ok",
		"confidence", out.Confidence,
		"form_fields", len(out.FormFields),
		"tables", len(out.Tables),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *Client) analyze(ctx context.Context, pdf []byte) ([]byte, error) {
	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/analyze"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(pdf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	if c.cfg.APIKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("docai.analyze.body_close_error", "error", cerr)
		}
	}()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnsupportedMediaType ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, extract.NewRejected(c.Kind(),
			fmt.Sprintf("service rejected document (status %d)", resp.StatusCode),
			errors.New(truncate(string(body), 512)))
	default:
		return nil, fmt.Errorf("docai status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}
}

// classify maps transport failures onto the adapter error taxonomy.
func (c *Client) classify(ctx context.Context, err error) *extract.AdapterError {
	var ae *extract.AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return extract.NewTimeout(c.Kind(), "analyze deadline exceeded", err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return extract.NewUnavailable(c.Kind(), "circuit breaker open", err)
	default:
		return extract.NewUnavailable(c.Kind(), "analyze call failed", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
