// Command promotion-import bulk-loads promotions for one tenant from a gzip
// NDJSON file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/repository"
)

func main() {
	var (
		tenantID    string
		file        string
		workers     int
		databaseURL string
	)
	flag.StringVar(&tenantID, "tenant-id", "", "tenant that owns the imported promotions")
	flag.StringVar(&file, "file", "", "gzip-compressed NDJSON file of promotion specs")
	flag.IntVar(&workers, "workers", 4, "number of concurrent creators")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or PROMO_DATABASE_URL, DATABASE_URL env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("PROMO_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if tenantID == "" || file == "" || databaseURL == "" {
		lg.Fatal("--tenant-id, --file and a database URL are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	report, err := run(ctx, lg, databaseURL, tenantID, file, workers)
	lg.Info("Import finished",
		zap.Int64("created", report.Created),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("failed", report.Failed),
	)
	if err != nil {
		lg.Fatal("Import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, tenantID, file string, workers int) (Report, error) {
	f, err := os.Open(file)
	if err != nil {
		return Report{}, errors.Wrapf(err, "open %s", file)
	}
	defer func() { _ = f.Close() }()

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return Report{}, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return Report{}, errors.Wrap(err, "run migrations")
	}

	svc, err := promotion.NewService(
		repository.NewPromotionRepository(pool),
		repository.NewOrderRepository(pool),
		promotion.WithLogger(lg.Named("promotion")),
	)
	if err != nil {
		return Report{}, errors.Wrap(err, "create promotion service")
	}

	return newImporter(svc, tenantID, workers, lg).ImportGzip(ctx, f)
}
