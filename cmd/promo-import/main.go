// Command promo-import loads a YAML promotion catalog into PostgreSQL.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
	"github.com/xenking/oolio-promotions/internal/storage/cache"
	"github.com/xenking/oolio-promotions/internal/storage/postgres"
)

type options struct {
	catalog     string
	databaseURL string
	redisAddr   string
	workers     int
	strict      bool
	dryRun      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.catalog, "catalog", "promotions.yaml", "path to the YAML catalog (.gz is decompressed)")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address whose promotion cache is invalidated after import (or REDIS_ADDR env)")
	flag.IntVar(&opts.workers, "workers", 4, "concurrent upserts")
	flag.BoolVar(&opts.strict, "strict", false, "fail when any promotion is malformed instead of skipping it")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate the catalog without writing")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.redisAddr == "" {
		opts.redisAddr = os.Getenv("REDIS_ADDR")
	}
	if opts.databaseURL == "" && !opts.dryRun {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, opts); err != nil {
		lg.Fatal("Promotion import failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts options) error {
	lg := zctx.From(ctx)

	records, err := loadCatalog(opts.catalog)
	if err != nil {
		return err
	}
	valid, skipped := partition(records)
	for _, err := range skipped {
		lg.Warn("Skipping malformed promotion", zap.Error(err))
	}
	if opts.strict && len(skipped) > 0 {
		return errors.Errorf("%d of %d promotions are malformed", len(skipped), len(records))
	}
	lg.Info("Catalog loaded",
		zap.String("path", opts.catalog),
		zap.Int("promotions", len(records)),
		zap.Int("valid", len(valid)),
		zap.Int("skipped", len(skipped)),
	)
	if opts.dryRun || len(valid) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewPromotionRepository(pool)
	start := time.Now()
	if err := upsertAll(ctx, repo, valid, opts.workers); err != nil {
		return err
	}
	lg.Info("Promotions written", zap.Int("count", len(valid)), zap.Duration("took", time.Since(start)))

	if opts.redisAddr != "" {
		rdb := cache.NewClient(cache.ClientOptions{Addr: opts.redisAddr})
		defer func() { _ = rdb.Close() }()

		if err := cache.New(repo, rdb, 0).Invalidate(ctx); err != nil {
			lg.Warn("Promotion cache invalidation failed; entries expire on their own", zap.Error(err))
		}
	}
	return nil
}

// upserter writes one promotion record.
type upserter interface {
	Upsert(ctx context.Context, rec promotion.Record) error
}

// upsertAll writes records with at most workers concurrent upserts and stops
// at the first failure.
func upsertAll(ctx context.Context, repo upserter, records []promotion.Record, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, rec := range records {
		g.Go(func() error {
			if err := repo.Upsert(ctx, rec); err != nil {
				return errors.Wrapf(err, "upsert promotion %q", rec.ID)
			}
			return nil
		})
	}
	return g.Wait()
}
