package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-verify/internal/directory"
	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/report"
	"github.com/sells-group/provider-verify/internal/store"
)

var (
	providersQuery     string
	providersStatus    string
	providersMin       int
	providersMax       int
	providersState     string
	providersSpecialty string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Browse the provider directory",
}

// directoryFilter builds the predicate from the list flags.
func directoryFilter(m *match.Matcher) (directory.Predicate, error) {
	preds := []directory.Predicate{
		directory.Search(providersQuery),
		directory.MinConfidence(providersMin),
		directory.MaxConfidence(providersMax),
	}
	if providersStatus != "" {
		st, ok := model.ParseStatus(providersStatus)
		if !ok {
			return nil, eris.Errorf("invalid status %q (want verified or needs_review)", providersStatus)
		}
		preds = append(preds, directory.ByStatus(st))
	}
	if providersState != "" {
		preds = append(preds, directory.ByState(providersState))
	}
	if providersSpecialty != "" {
		preds = append(preds, directory.BySpecialty(m, providersSpecialty))
	}
	return directory.And(preds...), nil
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers matching the filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		pred, err := directoryFilter(env.Matcher)
		if err != nil {
			return err
		}
		all, err := env.Store.ListProviders(cmd.Context(), store.ProviderFilter{Limit: store.NoLimit})
		if err != nil {
			return err
		}
		matched := directory.Filter(all, pred)

		rows := make([][]string, 0, len(matched))
		for _, p := range matched {
			rows = append(rows, []string{
				p.ID, p.Name, p.NPI, p.Specialty, p.Location, string(p.Status), report.Percent(p.ConfidenceScore),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "Name", "NPI", "Specialty", "Location", "Status", "Confidence"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
		))
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d providers\n", len(matched), len(all))
		return nil
	},
}

var providersShowCmd = &cobra.Command{
	Use:   "show <provider-id>",
	Short: "Show a provider's source results and review history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "review", envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		id := args[0]
		p, err := env.Store.GetProvider(cmd.Context(), id)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return err
		}
		if p != nil {
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, [][]string{
				{"Name", p.Name},
				{"NPI", p.NPI},
				{"Specialty", p.Specialty},
				{"Address", p.Address},
				{"Phone", p.Phone},
				{"Email", p.Email},
				{"Status", string(p.Status)},
				{"Confidence", report.Percent(p.ConfidenceScore)},
				{"Manual Override", strconv.FormatBool(p.ManualOverride)},
				{"Version", strconv.FormatInt(p.Version, 10)},
			}, nil))

			rows := make([][]string, 0, len(p.DataSources))
			for _, r := range p.DataSources {
				rows = append(rows, []string{
					r.Name, string(r.Status), report.Percent(r.Confidence),
					check(r.Fields.Name), check(r.Fields.Phone), check(r.Fields.Address), check(r.Fields.Specialty),
					r.Reason,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Source", "Status", "Confidence", "Name", "Phone", "Address", "Specialty", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
		}

		history, err := env.Review.History(cmd.Context(), id)
		if err != nil {
			return err
		}
		if p == nil && len(history) == 0 {
			return eris.Wrapf(store.ErrNotFound, "provider %s", id)
		}
		if len(history) > 0 {
			rows := make([][]string, 0, len(history))
			for _, a := range history {
				rows = append(rows, []string{
					a.CreatedAt.Format("2006-01-02 15:04"), string(a.Action), string(a.FromStatus),
					string(a.ToStatus), report.Percent(a.ConfidenceScore), a.Reviewer, a.Note,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"When", "Action", "From", "To", "Confidence", "Reviewer", "Note"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
		}
		return nil
	},
}

func check(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func init() {
	f := providersListCmd.Flags()
	f.StringVarP(&providersQuery, "query", "q", "", "search name, specialty, location or NPI")
	f.StringVar(&providersStatus, "status", "", "verified or needs_review")
	f.IntVar(&providersMin, "min", 0, "minimum confidence")
	f.IntVar(&providersMax, "max", 100, "maximum confidence")
	f.StringVar(&providersState, "state", "", "state code or name")
	f.StringVar(&providersSpecialty, "specialty", "", "specialty, synonyms accepted")

	providersCmd.AddCommand(providersListCmd, providersShowCmd)
	rootCmd.AddCommand(providersCmd)
}
