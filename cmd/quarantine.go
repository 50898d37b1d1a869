package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/store"
)

var (
	quarantineSource string
	quarantineReason string
	quarantineLimit  int
	quarantineJSON   bool
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect records that could not be canonicalized",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantine entries",
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

		entries, err := st.ListQuarantine(ctx, store.QuarantineFilter{
			Source: quarantineSource,
			Reason: model.ReasonCode(quarantineReason),
			Limit:  quarantineLimit,
		})
		if err != nil {
			return eris.Wrap(err, "quarantine list")
		}

		if quarantineJSON {
			out, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return eris.Wrap(err, "quarantine list: marshal")
			}
			os.Stdout.Write(out) //nolint:errcheck
			os.Stdout.WriteString("\n")
			return nil
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Quarantine is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tMARKET\tCOMMODITY\tDATE\tREASON\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Raw.Source, e.Raw.Market, e.Raw.Commodity, e.Raw.Date, e.Reason, e.Detail,
			)
		}
		return w.Flush()
	},
}

func init() {
	quarantineListCmd.Flags().StringVar(&quarantineSource, "source", "", "filter by source")
	quarantineListCmd.Flags().StringVar(&quarantineReason, "reason", "", "filter by reason code")
	quarantineListCmd.Flags().IntVar(&quarantineLimit, "limit", 50, "maximum entries to show")
	quarantineListCmd.Flags().BoolVar(&quarantineJSON, "json", false, "print entries as JSON")

	quarantineCmd.AddCommand(quarantineListCmd)
	rootCmd.AddCommand(quarantineCmd)
}
