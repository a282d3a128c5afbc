package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check recent runs and send alerts",
	Long:  "Collects a snapshot of runs in the lookback window, evaluates alert rules and posts any alerts to the configured webhook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if hours, _ := cmd.Flags().GetInt("lookback"); hours > 0 {
			cfg.Monitoring.LookbackHours = hours
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, time.Duration(cfg.Monitoring.StaleRunHours)*time.Hour),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("monitor check complete", zap.Int("alerts", len(alerts)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"snapshot": snap, "alerts": alerts})
	},
}

func init() {
	monitorCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(monitorCmd)
}
