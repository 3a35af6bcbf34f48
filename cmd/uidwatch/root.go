package main

import (
	"github.com/spf13/cobra"

	"github.com/enrolytics/uidwatch/internal/config"
)

const version = "v0.3.0"

// loadConfig resolves configuration from the --config flag or defaults,
// with --dataset overriding the dataset root.
func loadConfig(configPath, datasetRoot string) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if datasetRoot != "" {
		cfg.DatasetRoot = datasetRoot
	}
	return cfg, nil
}

func rootCmd() *cobra.Command {
	var (
		configPath  string
		datasetRoot string
	)

	cmd := &cobra.Command{
		Use:     "uidwatch",
		Short:   "Batch reconciliation and anomaly detection over enrolment datasets",
		Version: version,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults built in)")
	cmd.PersistentFlags().StringVar(&datasetRoot, "dataset", "", "Dataset root directory (overrides config)")

	cmd.AddCommand(scanCmd(&configPath, &datasetRoot))
	cmd.AddCommand(reportCmd(&configPath, &datasetRoot))
	return cmd
}
