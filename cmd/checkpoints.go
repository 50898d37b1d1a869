package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mandiflow/mandiflow/internal/checkpoint"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and reset partition checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed high-water marks per (source, partition)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		checkpoints, err := checkpoint.New(st).List(ctx)
		if err != nil {
			return eris.Wrap(err, "checkpoints list")
		}

		if len(checkpoints) == 0 {
			fmt.Fprintln(os.Stderr, "No checkpoints recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tPARTITION\tSTATE\tHIGH WATER\tUPDATED")
		for _, cp := range checkpoints {
			highWater := "-"
			if !cp.HighWater.IsZero() {
				highWater = cp.HighWater.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				cp.Source, cp.Partition, cp.State, highWater,
				cp.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var (
	resetSource    string
	resetPartition string
)

var checkpointsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a partition's checkpoint so its window reprocesses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := checkpoint.New(st).Reset(ctx, resetSource, resetPartition); err != nil {
			return eris.Wrap(err, "checkpoints reset")
		}
		zap.L().Info("checkpoint reset",
			zap.String("source", resetSource),
			zap.String("partition", resetPartition),
		)
		return nil
	},
}

func init() {
	checkpointsResetCmd.Flags().StringVar(&resetSource, "source", "", "source identifier (required)")
	checkpointsResetCmd.Flags().StringVar(&resetPartition, "partition", "", "partition label (required)")
	_ = checkpointsResetCmd.MarkFlagRequired("source")
	_ = checkpointsResetCmd.MarkFlagRequired("partition")

	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsResetCmd)
	rootCmd.AddCommand(checkpointsCmd)
}
