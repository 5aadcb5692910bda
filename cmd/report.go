package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-verify/internal/directory"
	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/report"
	"github.com/sells-group/provider-verify/internal/store"
)

var (
	reportFormat string
	reportOut    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summaries and directory exports",
}

var reportStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show verification statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		all, err := env.Store.ListProviders(cmd.Context(), store.ProviderFilter{Limit: store.NoLimit})
		if err != nil {
			return err
		}
		s := report.Summarize(all)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderReport(s.Table(), "Value"))

		if len(s.Sources) > 0 {
			rows := make([][]string, 0, len(s.Sources))
			for _, t := range s.Sources {
				rows = append(rows, []string{t.Name, fmt.Sprint(t.Match), fmt.Sprint(t.Mismatch), fmt.Sprint(t.NotFound)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Source", "Match", "Mismatch", "Not Found"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))
		}
		return nil
	},
}

var reportDirectoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Export verified providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		all, err := env.Store.ListProviders(cmd.Context(), store.ProviderFilter{Status: model.StatusVerified, Limit: store.NoLimit})
		if err != nil {
			return err
		}
		t := report.DirectoryTable(directory.Filter(all, directory.ByStatus(model.StatusVerified)))
		return writeReport(cmd, t, "Verified Providers")
	},
}

// writeReport writes t in the selected format to --out or stdout. XLSX
// needs --out.
func writeReport(cmd *cobra.Command, t report.Table, sheet string) error {
	var w io.Writer = cmd.OutOrStdout()
	if reportOut != "" && reportOut != "-" {
		f, err := os.Create(reportOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", reportOut)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	switch reportFormat {
	case "table":
		_, err := fmt.Fprintln(w, renderReport(t, "Confidence Score"))
		return err
	case "csv":
		return report.WriteCSV(w, t)
	case "xlsx":
		if reportOut == "" || reportOut == "-" {
			return eris.New("xlsx output needs --out")
		}
		return report.WriteXLSX(w, sheet, t)
	default:
		return eris.Errorf("unknown format %q (want table, csv or xlsx)", reportFormat)
	}
}

func init() {
	reportDirectoryCmd.Flags().StringVar(&reportFormat, "format", "table", "table, csv or xlsx")
	reportDirectoryCmd.Flags().StringVarP(&reportOut, "out", "o", "", "output file (default stdout)")

	reportCmd.AddCommand(reportStatsCmd, reportDirectoryCmd)
	rootCmd.AddCommand(reportCmd)
}
