package main

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-verify/internal/pipeline"
	"github.com/sells-group/provider-verify/internal/report"
)

var (
	verifyFile    string
	verifyOffline bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an uploaded provider file (CSV or XLSX)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errOut := cmd.ErrOrStderr()
		env, err := initEnv(ctx, "verify", envOptions{
			sources:   true,
			offline:   verifyOffline,
			observers: []pipeline.Observer{progressPrinter(errOut)},
		})
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.RunFile(ctx, verifyFile)
		if err != nil {
			return eris.Wrapf(err, "verify %s", verifyFile)
		}

		out := cmd.OutOrStdout()
		b := res.Batch
		fmt.Fprintln(out, renderTable(
			[]string{"Batch", "File", "Records", "Malformed", "Verified", "Needs Review"},
			[][]string{{
				b.ID, b.FileName,
				strconv.Itoa(b.Records), strconv.Itoa(b.Malformed),
				strconv.Itoa(b.Verified), strconv.Itoa(b.NeedsReview),
			}},
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
		))

		if len(res.Malformed) > 0 {
			rows := make([][]string, 0, len(res.Malformed))
			for _, m := range res.Malformed {
				rows = append(rows, []string{strconv.Itoa(m.Line), m.NPI, m.Reason})
			}
			fmt.Fprintln(out, renderTable([]string{"Line", "NPI", "Reason"}, rows, []columnAlignment{alignRight}))
		}

		fmt.Fprintln(out, renderReport(report.DirectoryTable(res.Providers), "Confidence Score"))
		return nil
	},
}

func progressPrinter(w io.Writer) pipeline.Observer {
	return func(ev pipeline.StageEvent) {
		if ev.State == pipeline.StageStarted {
			fmt.Fprintf(w, "%s...\n", ev.Label)
			return
		}
		fmt.Fprintf(w, "%s: %d/%d done\n", ev.Label, ev.Processed, ev.Total)
	}
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFile, "file", "", "provider upload (.csv or .xlsx)")
	verifyCmd.Flags().BoolVar(&verifyOffline, "offline", false, "skip network-backed sources")
	_ = verifyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(verifyCmd)
}
