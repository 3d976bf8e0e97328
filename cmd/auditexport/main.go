// auditexport dumps audit records to a Parquet file for offline retention
// analysis. Records contain only salted hashes and category counts, so the
// export is as safe to share as the audit table itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/cv-anonymiser/internal/audit"
	"github.com/raaihank/cv-anonymiser/internal/config"
	"github.com/raaihank/cv-anonymiser/internal/logger"
)

// exportRow is the flattened Parquet representation of an audit record
type exportRow struct {
	RequestID      string `parquet:"request_id"`
	CVHash         string `parquet:"cv_hash"`
	CategoryCounts string `parquet:"category_counts"` // JSON object
	RulesApplied   string `parquet:"rules_applied"`   // comma-separated
	CreatedAt      int64  `parquet:"created_at,timestamp"`
	ExpiresAt      int64  `parquet:"expires_at,timestamp"`
}

func main() {
	var (
		configPath   = flag.String("config", "configs/config.yaml", "Configuration file path")
		outputFile   = flag.String("output", "", "Output Parquet file")
		limit        = flag.Int("limit", 10000, "Maximum number of records to export")
		purgeExpired = flag.Bool("purge-expired", false, "Delete expired records instead of exporting")
	)
	flag.Parse()

	if *outputFile == "" && !*purgeExpired {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output audit.parquet --limit 5000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --purge-expired\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Audit.DatabaseURL == "" {
		fmt.Fprintf(os.Stderr, "No audit database configured\n")
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling...")
		cancel()
	}()

	store, err := audit.NewStore(&audit.Config{
		DatabaseURL:     cfg.Audit.DatabaseURL,
		MaxOpenConns:    cfg.Audit.MaxOpenConns,
		MaxIdleConns:    cfg.Audit.MaxIdleConns,
		ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
	}, log.WithComponent("audit").Logger)
	if err != nil {
		log.Fatal("Failed to connect to audit store", zap.Error(err))
	}
	defer store.Close()

	if *purgeExpired {
		deleted, err := store.DeleteExpired(ctx)
		if err != nil {
			log.Fatal("Purge failed", zap.Error(err))
		}
		log.Info("Purge complete", zap.Int64("deleted", deleted))
		return
	}

	if err := export(ctx, store, *outputFile, *limit, log); err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}
}

// export writes up to limit audit records to a Parquet file
func export(ctx context.Context, store *audit.Store, outputFile string, limit int, log *logger.Logger) error {
	records, err := store.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read audit records: %w", err)
	}

	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)

	for _, record := range records {
		counts, err := json.Marshal(record.CategoryCounts)
		if err != nil {
			return fmt.Errorf("failed to marshal category counts: %w", err)
		}

		row := exportRow{
			RequestID:      record.RequestID,
			CVHash:         record.CVHash,
			CategoryCounts: string(counts),
			RulesApplied:   strings.Join(record.RulesApplied, ","),
			CreatedAt:      record.CreatedAt.UnixMilli(),
			ExpiresAt:      record.ExpiresAt.UnixMilli(),
		}
		if err := writer.Write(&row); err != nil {
			return fmt.Errorf("failed to write Parquet row: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize Parquet file: %w", err)
	}

	log.Info("Export complete",
		zap.String("output", outputFile),
		zap.Int("records", len(records)))

	return nil
}
