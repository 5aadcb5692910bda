package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var batchesLimit int

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recent upload batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		batches, err := env.Store.ListBatches(cmd.Context(), batchesLimit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(batches))
		for _, b := range batches {
			rows = append(rows, []string{
				b.ID,
				b.FileName,
				string(b.Status),
				b.Stage,
				strconv.Itoa(b.Records),
				strconv.Itoa(b.Malformed),
				strconv.Itoa(b.Verified),
				strconv.Itoa(b.NeedsReview),
				b.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "File", "Status", "Stage", "Records", "Malformed", "Verified", "Needs Review", "Created"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
		))
		return nil
	},
}

func init() {
	batchesCmd.Flags().IntVar(&batchesLimit, "limit", 20, "number of batches to show")
	rootCmd.AddCommand(batchesCmd)
}
