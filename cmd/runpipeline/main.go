// runpipeline extracts and structures a single PDF without a database:
// useful for trying adapters and inspecting the structured output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/docai"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/llm"
	"github.com/invoiceflow/pipeline/internal/llm/gemini"
	"github.com/invoiceflow/pipeline/internal/ocr"
	"github.com/invoiceflow/pipeline/internal/pipeline"
	"github.com/invoiceflow/pipeline/internal/structurer"
)

func main() {
	_ = godotenv.Load()

	var (
		pdfPath  = flag.String("pdf", "", "path to the PDF to process (required)")
		adapters = flag.String("adapters", "", "comma-separated adapter kinds (default: all configured)")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *pdfPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	pdf, err := os.ReadFile(*pdfPath)
	if err != nil {
		logger.Error("read pdf", "path", *pdfPath, "error", err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()

	var all []extract.Adapter
	if cfg.DocAI.Endpoint != "" {
		all = append(all, docai.NewClient(docai.Config{
			Endpoint: cfg.DocAI.Endpoint,
			APIKey:   cfg.DocAI.APIKey,
			Timeout:  cfg.DocAI.Timeout,
		}, logger))
	}
	all = append(all, ocr.NewExtractor(ocr.Config{
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		DPI:           cfg.OCR.DPI,
		MaxPages:      cfg.OCR.MaxPages,
		TessdataDir:   cfg.OCR.TessdataDir,
		Preprocess:    cfg.OCR.Preprocess,
		ArtifactDir:   cfg.OCR.ArtifactDir,
		Timeout:       cfg.OCR.Timeout,
	}, logger))

	var fieldExtractor llm.FieldExtractor
	if cfg.Gemini.APIKey != "" {
		client := gemini.NewClient(gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			Timeout:     cfg.Gemini.Timeout,
		}, logger)
		fieldExtractor = client
		all = append(all, client)
	}

	orch := pipeline.NewOrchestrator(all, cfg.OCR.Timeout, nil, logger)

	kinds := orch.Registered()
	if *adapters != "" {
		kinds = kinds[:0]
		for _, part := range strings.Split(*adapters, ",") {
			kind := constants.AdapterKind(strings.TrimSpace(part))
			if !constants.IsValidAdapter(kind) {
				logger.Error("unknown adapter kind", "kind", kind)
				os.Exit(2)
			}
			kinds = append(kinds, kind)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ProcessTimeout)
	defer cancel()
	ctx = common.WithRunID(ctx, uuid.New())

	res := orch.Run(ctx, pdf, kinds)
	for _, ae := range res.Errors {
		logger.Warn("adapter failed", "adapter", ae.Adapter, "reason", ae.Reason, "message", ae.Message)
	}
	if !res.Succeeded() {
		logger.Error("all adapters failed")
		os.Exit(1)
	}

	st, err := structurer.New(structurer.Config{}, fieldExtractor, logger).Structure(ctx, res, *pdfPath)
	if err != nil {
		logger.Error("structuring failed", "error", err)
		fmt.Fprintln(os.Stderr, "--- raw corpus ---")
		fmt.Fprintln(os.Stderr, res.Corpus())
		os.Exit(1)
	}

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		logger.Error("encode result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	logger.Info("done",
		"methods", strings.Join(res.Methods(), "+"),
		"confidence", res.BestConfidence(),
		"flagged", st.Flagged,
	)
}
