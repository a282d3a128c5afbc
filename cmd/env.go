package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/db"
	"github.com/sells-group/tender-sync/internal/enrich"
	"github.com/sells-group/tender-sync/internal/fetcher"
	"github.com/sells-group/tender-sync/internal/lock"
	"github.com/sells-group/tender-sync/internal/metrics"
	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/monitoring"
	"github.com/sells-group/tender-sync/internal/pipeline"
	"github.com/sells-group/tender-sync/internal/reconcile"
	"github.com/sells-group/tender-sync/internal/store"
)

// syncEnv holds the store and the pipeline built on it. Callers should
// defer env.Close().
type syncEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	Alerter  *monitoring.Alerter

	closeLock func() error
}

// Close releases the lock client and the store.
func (e *syncEnv) Close() {
	if e.closeLock != nil {
		if err := e.closeLock(); err != nil {
			zap.L().Warn("close lock client", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	dsn := cfg.Store.DatabaseURL
	if cfg.Store.Driver == "sqlite" && dsn == "" {
		dsn = "tender-sync.db"
	}
	st, err := store.Open(ctx, cfg.Store.Driver, dsn, &db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initSyncEnv validates the config for mode and wires the pipeline.
func initSyncEnv(ctx context.Context, mode string) (*syncEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	locker, closeLock, err := initLocker(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	columns := make(map[model.Kind]model.Columns, len(model.Kinds))
	for _, k := range model.Kinds {
		columns[k] = cfg.ColumnsFor(k)
	}

	enricher := enrich.New(
		enrich.NewHTTPPages(secs(cfg.Enrich.TimeoutSecs), cfg.Fetch.UserAgent),
		enrich.Options{
			Concurrency: cfg.Enrich.Concurrency,
			RatePerSec:  cfg.Enrich.RatePerSec,
			PhoneRegion: cfg.Enrich.PhoneRegion,
			Selectors: enrich.Selectors{
				Contact:  cfg.Enrich.Selectors.Contact,
				Phone:    cfg.Enrich.Selectors.Phone,
				Email:    cfg.Enrich.Selectors.Email,
				LotTitle: cfg.Enrich.Selectors.LotTitle,
				LotDate:  cfg.Enrich.Selectors.LotDate,
			},
			Columns: columns,
		},
	)

	m := metrics.New()
	alerter := monitoring.NewAlerter(cfg.Monitoring)

	p := pipeline.New(pipeline.Deps{
		Fetcher:    newFetcher(),
		Enricher:   enricher,
		Reconciler: reconcile.New(st, columns),
		Runs:       st,
		Locker:     locker,
		Metrics:    m,
		Alerter:    alerter,
	}, pipeline.Options{
		TempDir:   cfg.Fetch.TempDir,
		BatchSize: cfg.Pipeline.BatchSize,
	})

	return &syncEnv{Store: st, Pipeline: p, Metrics: m, Alerter: alerter, closeLock: closeLock}, nil
}

// newFetcher routes refs by scheme to the configured fetchers.
func newFetcher() *fetcher.Router {
	return fetcher.NewRouter().
		Handle(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   secs(cfg.Fetch.TimeoutSecs),
		}), "http", "https").
		Handle(fetcher.NewFTPFetcher(fetcher.FTPOptions{
			User:     cfg.Fetch.FTPUser,
			Password: cfg.Fetch.FTPPassword,
		}), "ftp").
		Handle(fetcher.NewDashboardExporter(fetcher.DashboardOptions{
			ExportSteps: cfg.Fetch.Export.Steps,
			Wait:        secs(cfg.Fetch.Export.WaitSecs),
			Headless:    cfg.Fetch.Export.Headless,
			UserAgent:   cfg.Fetch.UserAgent,
		}), "dashboard").
		Handle(fetcher.NewFileFetcher(), "file")
}

// initLocker returns a Redis-backed lock when redis.url is set, else an
// in-process one.
func initLocker(ctx context.Context) (lock.Locker, func() error, error) {
	if cfg.Redis.URL == "" {
		return lock.NewLocalLocker(), nil, nil
	}
	l, err := lock.NewRedisLocker(ctx, cfg.Redis.URL, secs(cfg.Redis.LockTTLSec))
	if err != nil {
		return nil, nil, eris.Wrap(err, "init redis lock")
	}
	return l, l.Close, nil
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
