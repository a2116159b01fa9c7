package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect reconciliation run history",
	Long:  "Commands for listing runs and viewing their summaries and guesses.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconciliation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and optionally its guesses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		showGuesses, _ := cmd.Flags().GetBool("guesses")
		if !showGuesses {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		minRaw, _ := cmd.Flags().GetString("min-confidence")
		minConf, ok := model.ParseConfidence(minRaw)
		if !ok {
			return eris.Errorf("runs show: invalid --min-confidence %q", minRaw)
		}
		guesses, err := st.ListGuesses(ctx, run.ID, minConf)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		formatGuesses(os.Stdout, guesses)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, cancelled, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsShowCmd.Flags().Bool("guesses", false, "list the run's guesses instead of its summary")
	runsShowCmd.Flags().String("min-confidence", "low", "lowest confidence to list (low, medium, high)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tWINDOW\tGUESSED\tHIGH\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-------\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		guessed, high := "-", "-"
		if r.Summary != nil {
			guessed = fmt.Sprintf("%d", r.Summary.Guessed)
			high = fmt.Sprintf("%d", r.Summary.High)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			formatWindow(r.Window),
			guessed,
			high,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatGuesses writes a tabular list of guesses to w.
func formatGuesses(out io.Writer, guesses []model.GuessedOrder) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ORDER\tNAME\tPHONE\tCONFIDENCE\tMATCHES\tPHONES\tTOKEN")
	for _, g := range guesses {
		name := g.UserName
		if len([]rune(name)) > 30 {
			name = string([]rune(name)[:27]) + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			g.OrderID,
			name,
			g.GuessedPhone,
			g.Confidence,
			g.MatchingOrdersCount,
			g.UniquePhoneCount,
			g.ProviderToken,
		)
	}
	_ = w.Flush()
}

func formatWindow(win model.Window) string {
	after := "-"
	if !win.After.IsZero() {
		after = win.After.Format("2006-01-02")
	}
	return after + ".." + win.Before.Format("2006-01-02")
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
