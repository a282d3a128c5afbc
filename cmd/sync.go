package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tender-sync/internal/config"
	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/pipeline"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch, enrich and reconcile configured sources",
	Long:  "Runs every configured source (or those named with --source) through the pipeline, one after another. A failed source does not stop the others.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		manifest, _ := cmd.Flags().GetString("manifest")
		if manifest != "" {
			sources, err := loadManifest(manifest)
			if err != nil {
				return err
			}
			cfg.Sources = sources
		}

		names, _ := cmd.Flags().GetStringSlice("source")
		sources, err := selectSources(cfg.Sources, names)
		if err != nil {
			return err
		}

		env, err := initSyncEnv(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Pipeline.RunAll(ctx, sources)
		formatSyncResult(os.Stdout, runs)

		var syncErr *pipeline.SyncError
		if errors.As(err, &syncErr) {
			for _, f := range syncErr.Failures {
				fmt.Fprintf(os.Stderr, "%s: %v\n", f.Source, f.Err)
			}
		}
		return err
	},
}

type manifestFile struct {
	Sources []model.Source `yaml:"sources"`
}

// loadManifest reads a YAML file listing sources, replacing the configured ones.
func loadManifest(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read manifest %s", path)
	}
	var m manifestFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "parse manifest %s", path)
	}
	if len(m.Sources) == 0 {
		return nil, eris.Errorf("manifest %s lists no sources", path)
	}
	if err := config.ValidateSources(m.Sources); err != nil {
		return nil, eris.Wrapf(err, "manifest %s", path)
	}
	return m.Sources, nil
}

// selectSources returns the named sources in the order given, or all of them
// when names is empty.
func selectSources(all []model.Source, names []string) ([]model.Source, error) {
	if len(names) == 0 {
		if len(all) == 0 {
			return nil, eris.New("no sources configured")
		}
		return all, nil
	}
	out := make([]model.Source, 0, len(names))
	for _, n := range names {
		found := false
		for _, s := range all {
			if s.Name == n {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Errorf("unknown source %q", n)
		}
	}
	return out, nil
}

// formatSyncResult writes one line per run.
func formatSyncResult(out io.Writer, runs []*model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tPROCESSED\tCREATED\tUPDATED\tSKIPPED\tFAILED")
	for _, r := range runs {
		s := r.Summary
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.Source, r.Status, s.Processed, s.Created, s.Updated, s.Skipped, s.Failed)
	}
	_ = w.Flush()
}

func init() {
	syncCmd.Flags().StringSlice("source", nil, "source names to sync (default: all configured)")
	syncCmd.Flags().String("manifest", "", "YAML file listing sources, replacing the configured ones")
	rootCmd.AddCommand(syncCmd)
}
