package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"pressroom/api/internal/app"
)

func newCheckCmd() *cobra.Command {
	var (
		collection string
		field      string
		threshold  float64
	)
	cmd := &cobra.Command{
		Use:   "check [title]",
		Short: "Look for existing records whose title resembles the given one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			input := app.DuplicateCheckInput{
				Key:        "cli",
				Title:      strings.Join(args, " "),
				Collection: collection,
				TitleField: field,
			}
			if cmd.Flags().Changed("threshold") {
				input.Threshold = &threshold
			}
			result, err := st.service.CheckDuplicates(cmd.Context(), input)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "press_releases", "collection to search")
	cmd.Flags().StringVar(&field, "field", "", "field holding the title (defaults to the collection's title field)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity (defaults to PRESSROOM_DEDUP_THRESHOLD)")
	return cmd
}
