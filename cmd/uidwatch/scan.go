package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/enrolytics/uidwatch/internal/alerts"
	"github.com/enrolytics/uidwatch/internal/explain"
	"github.com/enrolytics/uidwatch/internal/hierarchy"
	"github.com/enrolytics/uidwatch/internal/persistence/postgres"
	"github.com/enrolytics/uidwatch/internal/pipeline"
)

func scanCmd(configPath, datasetRoot *string) *cobra.Command {
	var (
		outputDir   string
		timeout     time.Duration
		minSeverity string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Ingest the dataset, score the hierarchy, and emit the alert feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *datasetRoot)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var opts []pipeline.Option
			if cfg.Mirror.Enabled {
				store, err := postgres.NewStore(cfg.Mirror.DSN)
				if err != nil {
					return fmt.Errorf("mirror unavailable: %w", err)
				}
				defer store.Close()
				opts = append(opts, pipeline.WithMirror(store))
			}
			p := pipeline.New(cfg, opts...)

			ds, err := p.Reload(ctx)
			if err != nil {
				return err
			}
			run, err := p.Run(ctx, ds, hierarchy.WholeWindow)
			if err != nil {
				return err
			}

			feed := run.Alerts
			if minSeverity != "" {
				feed = alerts.Filter{MinSeverity: explain.Severity(minSeverity)}.Apply(feed)
			}

			if err := writeAlertsJSONL(outputDir, feed); err != nil {
				return err
			}

			log.Info().
				Str("version", run.Version).
				Int("alerts", len(feed)).
				Int("skipped_groups", run.SkippedGroups).
				Str("output", filepath.Join(outputDir, "alerts.jsonl")).
				Msg("Scan complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "out", "out", "Directory for the alerts JSONL artifact")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Whole-run timeout")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "Drop alerts below this severity (moderate|high|critical)")
	return cmd
}

// writeAlertsJSONL emits one alert per line for downstream consumers.
func writeAlertsJSONL(dir string, feed []alerts.Alert) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, "alerts.jsonl")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create alerts file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, alert := range feed {
		if err := encoder.Encode(alert); err != nil {
			return fmt.Errorf("failed to encode alert: %w", err)
		}
	}
	return nil
}
