// Command backfill assigns developer IDs to records created without one.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/trioll/trioll-developer-portal/internal/config"
	"github.com/trioll/trioll-developer-portal/internal/repository"
	"github.com/trioll/trioll-developer-portal/internal/service/identity"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "log the IDs that would be assigned without writing them")
	limit := flag.Int("limit", 0, "maximum number of records to process (0 = all)")
	pageSize := flag.Int("page-size", 100, "records fetched per page")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()

	records := repository.NewPostgresDeveloperRepo(pool)
	deriver := identity.NewDeriver(records, nil, cfg.LookupTimeout, logger)

	report, err := identity.Backfill(ctx, records, deriver, identity.BackfillOptions{
		DryRun:   *dryRun,
		Limit:    *limit,
		PageSize: *pageSize,
	}, logger)
	fields := []zap.Field{
		zap.Int("scanned", report.Scanned),
		zap.Int("assigned", report.Assigned),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", *dryRun),
	}
	if err != nil {
		logger.Fatal("backfill aborted", append(fields, zap.Error(err))...)
	}
	logger.Info("backfill finished", fields...)
}
