// Package server exposes the REST API over gin.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/invoiceflow/pipeline/internal/async"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/export"
	"github.com/invoiceflow/pipeline/internal/repository"
)

type Server struct {
	cfg      common.ServerConfig
	invoices *repository.InvoiceRepository
	batches  *repository.BatchRepository
	vendors  *repository.VendorRepository
	exporter *export.Service
	queue    async.Queue
	log      *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

func New(cfg common.ServerConfig,
	invoices *repository.InvoiceRepository,
	batches *repository.BatchRepository,
	vendors *repository.VendorRepository,
	exporter *export.Service,
	queue async.Queue,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		invoices: invoices,
		batches:  batches,
		vendors:  vendors,
		exporter: exporter,
		queue:    queue,
		log:      logger,
	}
	s.engine = s.buildRouter()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = s.cfg.MaxUploadMB << 20

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	{
		api.POST("/batches", s.createBatch)
		api.GET("/batches", s.listBatches)
		api.GET("/batches/:id", s.getBatch)
		api.GET("/batches/:id/summary", s.batchSummary)
		api.GET("/batches/:id/export", s.exportBatch)
		api.POST("/batches/:id/invoices", s.uploadInvoice)
		api.GET("/batches/:id/invoices", s.listInvoices)

		api.GET("/invoices/:id", s.getInvoice)
		api.GET("/invoices/:id/versions", s.invoiceVersions)
		api.POST("/invoices/:id/approve", s.approveInvoice)
		api.POST("/invoices/:id/reject", s.rejectInvoice)
		api.POST("/invoices/:id/correct", s.correctInvoice)

		api.GET("/vendors", s.listVendors)
		api.GET("/vendors/:id", s.getVendor)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Start() error {
	s.log.Info("http.listen", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// fail renders the common error taxonomy as a JSON problem.
func fail(c *gin.Context, err error) {
	c.JSON(common.HTTPStatus(err), gin.H{"error": err.Error()})
}
