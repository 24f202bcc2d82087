// invoiced is the invoice-processing service: REST API, worker pool and
// metrics endpoint in one process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/invoiceflow/pipeline/internal/async"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/docai"
	"github.com/invoiceflow/pipeline/internal/export"
	"github.com/invoiceflow/pipeline/internal/extract"
	"github.com/invoiceflow/pipeline/internal/llm"
	"github.com/invoiceflow/pipeline/internal/llm/gemini"
	"github.com/invoiceflow/pipeline/internal/observability/metrics"
	"github.com/invoiceflow/pipeline/internal/ocr"
	"github.com/invoiceflow/pipeline/internal/pipeline"
	"github.com/invoiceflow/pipeline/internal/progress"
	"github.com/invoiceflow/pipeline/internal/repository"
	"github.com/invoiceflow/pipeline/internal/server"
	"github.com/invoiceflow/pipeline/internal/structurer"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.OpenDB(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := repository.EnsureSchema(ctx, db); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	invoicesRepo := repository.NewInvoiceRepository(db)
	batchesRepo := repository.NewBatchRepository(db)
	vendorsRepo := repository.NewVendorRepository(db)

	// Progress reporting: always log; add NATS when configured.
	var reporter progress.Reporter = progress.NewLogReporter(logger)
	if cfg.Progress.NATSURL != "" {
		nr, err := progress.NewNATSReporter(cfg.Progress.NATSURL, cfg.Progress.NATSSubject, progress.Options{}, logger)
		if err != nil {
			logger.Error("failed to connect progress broker", "error", err)
			os.Exit(1)
		}
		defer nr.Close()
		reporter = progress.Multi{progress.NewLogReporter(logger), nr}
	}

	pm := metrics.NewPipelineMetrics("invoiced")

	// OCR adapters, canonical order: docai, tesseract, gemini.
	var adapters []extract.Adapter
	if cfg.DocAI.Endpoint != "" {
		adapters = append(adapters, docai.NewClient(docai.Config{
			Endpoint: cfg.DocAI.Endpoint,
			APIKey:   cfg.DocAI.APIKey,
			Timeout:  cfg.DocAI.Timeout,
		}, logger))
	}
	adapters = append(adapters, ocr.NewExtractor(ocr.Config{
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
		adapters = append(adapters, client)
	}

	orch := pipeline.NewOrchestrator(adapters, cfg.OCR.Timeout, pm, logger)
	s := structurer.New(structurer.Config{}, fieldExtractor, logger)
	processor := pipeline.NewProcessor(orch, s, invoicesRepo, reporter, pm, logger)

	localQueue := async.NewProcessorQueue(processor, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)
	var queue async.Queue = localQueue
	if cfg.Pipeline.JobsNATSURL != "" {
		// Distributed mode: jobs go over NATS and every process in the
		// queue group takes a share.
		nq, err := async.NewNATSQueue(cfg.Pipeline.JobsNATSURL, cfg.Pipeline.JobsSubject, localQueue, async.NATSOptions{}, logger)
		if err != nil {
			logger.Error("failed to connect jobs broker", "error", err)
			os.Exit(1)
		}
		if err := nq.Start(); err != nil {
			logger.Error("failed to subscribe jobs", "error", err)
			os.Exit(1)
		}
		queue = nq
	}

	exporter := export.NewService(invoicesRepo, batchesRepo, logger)
	api := server.New(cfg.Server, invoicesRepo, batchesRepo, vendorsRepo, exporter, queue, logger)

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           pm.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics.listen", "addr", cfg.Server.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics serve error", "error", err)
		}
	}()
	go func() {
		if err := api.Start(); err != nil {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown error", "error", err)
	}
}
