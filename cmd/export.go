package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write entities and their history to an xlsx workbook",
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

		out, _ := cmd.Flags().GetString("out")
		region, _ := cmd.Flags().GetString("region")

		entities, err := export.Load(ctx, st, region)
		if err != nil {
			return err
		}
		if err := export.Save(out, entities); err != nil {
			return eris.Wrap(err, "export")
		}

		zap.L().Info("export written", zap.String("path", out), zap.Int("entities", len(entities)))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "entities.xlsx", "output workbook path")
	exportCmd.Flags().String("region", "", "only export entities in this region")
	rootCmd.AddCommand(exportCmd)
}
