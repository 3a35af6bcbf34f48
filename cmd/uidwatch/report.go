package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/enrolytics/uidwatch/internal/pipeline"
)

func reportCmd(configPath, datasetRoot *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Ingest the dataset and print the structured audit report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *datasetRoot)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p := pipeline.New(cfg)
			ds, err := p.Reload(ctx)
			if err != nil {
				return err
			}

			out := struct {
				Version string      `json:"version"`
				Report  interface{} `json:"report"`
				Merge   interface{} `json:"merge"`
			}{ds.Version, ds.Report, ds.Merge}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Ingestion timeout")
	return cmd
}
