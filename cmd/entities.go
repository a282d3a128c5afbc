package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tender-sync/internal/export"
	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/store"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Inspect reconciled entities",
}

// -- entities list --

var entitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities",
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

		region, _ := cmd.Flags().GetString("region")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		filter := store.EntityFilter{Region: region, Limit: limit, Offset: offset}

		entities, err := st.ListEntities(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "entities list")
		}
		total, err := st.CountEntities(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "entities list")
		}

		if len(entities) == 0 {
			fmt.Fprintln(os.Stderr, "No entities found.")
			return nil
		}
		formatEntitiesList(os.Stdout, entities)
		fmt.Fprintf(os.Stderr, "%d of %d entities\n", len(entities), total)
		return nil
	},
}

// -- entities show --

var entitiesShowCmd = &cobra.Command{
	Use:   "show <registration-id>",
	Short: "Show an entity with its full history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		e, err := st.GetEntity(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "entities show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	},
}

func init() {
	entitiesListCmd.Flags().String("region", "", "filter by region")
	entitiesListCmd.Flags().Int("limit", 50, "max number of entities to display")
	entitiesListCmd.Flags().Int("offset", 0, "number of entities to skip")

	entitiesCmd.AddCommand(entitiesListCmd)
	entitiesCmd.AddCommand(entitiesShowCmd)
	rootCmd.AddCommand(entitiesCmd)
}

// formatEntitiesList writes a tabular list of entities to w.
func formatEntitiesList(out io.Writer, entities []model.Entity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGISTRATION_ID\tNAME\tREGION\tPHONE\tENTRIES\tLAST_AMOUNT")
	for _, e := range entities {
		var last *float64
		if n := len(e.History); n > 0 {
			last = e.History[n-1].Amount
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.RegistrationID,
			truncate(model.Deref(e.Name), 40),
			model.Deref(e.Region),
			model.Deref(e.Phone),
			len(e.History),
			export.FormatAmount(last),
		)
	}
	_ = w.Flush()
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
