package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/netqueue/internal/persistence"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent request outcomes from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := persistence.Open(cmd.Context(), a.cfg.Journal)
			if err != nil {
				return err
			}
			if j == nil {
				return errors.New("journal is disabled (journal.driver is none)")
			}
			defer j.Close()

			entries, err := j.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return printHistory(a, entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func printHistory(a *app, entries []persistence.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No recorded requests.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOUTCOME\tSTATUS\tATTEMPTS\tDURATION\tREQUEST")
	for _, e := range entries {
		status := "-"
		if e.StatusCode > 0 {
			status = fmt.Sprint(e.StatusCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Outcome, status, e.Attempts,
			e.Duration.Round(time.Millisecond), e.Name)
	}
	return w.Flush()
}
