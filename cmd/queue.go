package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-verify/internal/report"
	"github.com/sells-group/provider-verify/internal/review"
)

var (
	queueReviewer string
	queueNote     string
	queueVersion  int64
	queueOut      string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work the manual review queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers awaiting review, lowest confidence first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		queue, err := env.Review.List(cmd.Context())
		if err != nil {
			return err
		}
		t := report.QueueTable(queue)
		t.Header = append([]string{"ID"}, t.Header...)
		for i := range t.Rows {
			t.Rows[i] = append([]string{queue[i].ID}, t.Rows[i]...)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReport(t, "Confidence Score"))
		fmt.Fprintf(cmd.OutOrStdout(), "%d providers need review\n", len(queue))
		return nil
	},
}

func decisionFor(id string) review.Decision {
	reviewer := queueReviewer
	if reviewer == "" {
		reviewer = os.Getenv("USER")
	}
	return review.Decision{ProviderID: id, Version: queueVersion, Reviewer: reviewer, Note: queueNote}
}

var queueApproveCmd = &cobra.Command{
	Use:   "approve <provider-id>",
	Short: "Mark a queued provider as verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Review.Approve(cmd.Context(), decisionFor(args[0]))
		if err != nil {
			return eris.Wrapf(err, "approve %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "approved %s (%s), confidence %s\n", p.Name, p.NPI, report.Percent(p.ConfidenceScore))
		return nil
	},
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <provider-id>",
	Short: "Permanently remove a queued provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		a, err := env.Review.Reject(cmd.Context(), decisionFor(args[0]))
		if err != nil {
			return eris.Wrapf(err, "reject %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rejected %s (%s)\n", a.ProviderName, a.NPI)
		return nil
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the review queue as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		if queueOut == "" || queueOut == "-" {
			return env.Review.Export(cmd.Context(), cmd.OutOrStdout())
		}
		f, err := os.Create(queueOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", queueOut)
		}
		defer f.Close() //nolint:errcheck
		if err := env.Review.Export(cmd.Context(), f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", queueOut)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{queueApproveCmd, queueRejectCmd} {
		c.Flags().StringVar(&queueReviewer, "reviewer", "", "reviewer name (default $USER)")
		c.Flags().StringVar(&queueNote, "note", "", "decision note")
		c.Flags().Int64Var(&queueVersion, "version", 0, "provider version the decision applies to (0 = current)")
	}
	queueExportCmd.Flags().StringVarP(&queueOut, "out", "o", "", "output file (default stdout)")

	queueCmd.AddCommand(queueListCmd, queueApproveCmd, queueRejectCmd, queueExportCmd)
	rootCmd.AddCommand(queueCmd)
}
