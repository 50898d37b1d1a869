package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mandiflow/mandiflow/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mandiflow",
	Short: "Agricultural price canonicalization engine",
	Long:  "Turns raw per-source mandi price records into a deduplicated, validated canonical fact stream, quarantining anything that cannot be safely canonicalized.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
