package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pressroom/api/internal/cache"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Synchronize every collection once and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			syncErr := st.cache.RefreshAll(cmd.Context(), true)
			printStatuses(cmd.OutOrStdout(), st.cache.StatusAll())
			return syncErr
		},
	}
}

func printStatuses(w io.Writer, statuses []cache.EntryStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tRECORDS\tSYNCED\tERROR")
	for _, st := range statuses {
		synced := "never"
		if !st.LastSyncedAt.IsZero() {
			synced = st.LastSyncedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", st.Collection, st.Count, synced, st.LastError)
	}
	tw.Flush()
}
