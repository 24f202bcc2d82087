// dbhealth pings the configured database and verifies the schema
// exists. Exit code 0 means healthy.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/repository"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := repository.OpenDB(ctx, cfg.Database)
	if err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	var n int
	err = db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_name IN ('batches', 'vendors', 'invoices', 'invoice_versions')
`).Scan(&n)
	if err != nil {
		logger.Error("schema check failed", "error", err)
		os.Exit(1)
	}

	logger.Info("database healthy", "tables", n)
	if n < 4 {
		logger.Warn("schema incomplete, run the service once to bootstrap", "tables", n)
	}
}
