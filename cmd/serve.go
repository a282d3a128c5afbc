package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/api"
	"github.com/sells-group/tender-sync/internal/lock"
	"github.com/sells-group/tender-sync/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the entity API and run scheduled syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSyncEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := startSchedule(ctx, cfg.Schedule.Spec, func(ctx context.Context) {
			if _, err := env.Pipeline.RunAll(ctx, cfg.Sources); err != nil && !errors.Is(err, lock.ErrLocked) {
				zap.L().Error("scheduled sync failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		if sched != nil {
			defer sched.Stop()
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.StaleRunHours)*time.Hour),
			env.Alerter,
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		handler := api.NewRouter(api.Deps{
			Entities: env.Store,
			Runs:     env.Store,
			Syncer:   env.Pipeline,
			Sources:  cfg.Sources,
			Metrics:  env.Metrics.Handler(),
		}, cfg.Server)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// startSchedule runs job on spec until ctx is done. An empty spec disables
// scheduling and returns a nil cron.
func startSchedule(ctx context.Context, spec string, job func(context.Context)) (*cron.Cron, error) {
	if spec == "" {
		zap.L().Info("scheduled sync disabled")
		return nil, nil
	}
	c := cron.New()
	if err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return nil, eris.Wrapf(err, "invalid schedule %q", spec)
	}
	c.Start()
	zap.L().Info("scheduled sync enabled", zap.String("spec", spec))
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
