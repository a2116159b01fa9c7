package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ordermatch/internal/matchcache"
	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/reconcile"
	"github.com/sells-group/ordermatch/internal/report"
	"github.com/sells-group/ordermatch/internal/scorer"
	"github.com/sells-group/ordermatch/internal/source"
	"github.com/sells-group/ordermatch/internal/store"
)

var errInterrupted = eris.New("interrupted")

var (
	matchAfter      string
	matchBefore     string
	matchClearCache bool
	matchRefresh    bool
	matchOffline    bool
	matchOutputDir  string
	matchFormats    string
	matchNoStore    bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Extract phoneless orders and guess their phones by name",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode := "match"
		if matchOffline {
			mode = "offline"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		after := matchAfter
		if after == "" {
			after = cfg.Match.After
		}
		window, err := parseWindow(after, matchBefore, time.Now())
		if err != nil {
			return err
		}

		formatList := matchFormats
		if formatList == "" {
			formatList = strings.Join(cfg.Match.Formats, ",")
		}
		formats, err := report.ParseFormats(formatList)
		if err != nil {
			return err
		}

		outputDir := matchOutputDir
		if outputDir == "" {
			outputDir = cfg.Match.OutputDir
		}

		scoring := scorer.Config{
			HighMinRecords: cfg.Match.HighMinRecords,
			MajorityShare:  cfg.Match.MajorityShare,
		}
		if err := scorer.ValidateConfig(scoring); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if matchClearCache {
			if err := matchcache.Clear(cfg.Match.CacheFile); err != nil {
				return err
			}
			zap.L().Info("match cache cleared", zap.String("path", cfg.Match.CacheFile))
		}
		cache := matchcache.Load(cfg.Match.CacheFile)
		bulk := source.LoadBulk(ctx, cfg.Match.BulkFile, cfg.Match.PaymentMethod)

		primary, remotes, err := buildSources(cfg, matchOffline, bulk)
		if err != nil {
			return err
		}

		var st store.Store
		if !matchNoStore {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		rec := reconcile.New(reconcile.Options{
			Primary: primary,
			Remotes: remotes,
			Bulk:    bulk,
			Cache:   cache,
			Scorer:  scoring,
			Config: reconcile.Config{
				PaymentMethod: cfg.Match.PaymentMethod,
				Statuses:      cfg.Match.Statuses,
				PerPage:       cfg.Match.PerPage,
				Refresh:       matchRefresh,
			},
		})

		res, err := executeMatch(ctx, rec, st, window, outputTarget{
			dir:     outputDir,
			base:    cfg.Match.OutputName,
			formats: formats,
		})
		if res != nil {
			formatSummary(os.Stdout, res)
		}
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Warn("interrupted, partial results saved")
				return errInterrupted
			}
			return err
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchAfter, "after", "", "earliest order creation time (default from match.after)")
	matchCmd.Flags().StringVar(&matchBefore, "before", "", "latest order creation time (default now)")
	matchCmd.Flags().BoolVarP(&matchClearCache, "clear-cache", "c", false, "delete the match cache before running")
	matchCmd.Flags().BoolVar(&matchRefresh, "refresh", false, "ignore cached results and overwrite them")
	matchCmd.Flags().BoolVar(&matchOffline, "offline", false, "use the bulk dataset as the only source")
	matchCmd.Flags().StringVar(&matchOutputDir, "output-dir", "", "report directory (default from match.output_dir)")
	matchCmd.Flags().StringVar(&matchFormats, "formats", "", "comma-separated report formats: json, csv, xlsx")
	matchCmd.Flags().BoolVar(&matchNoStore, "no-store", false, "do not record the run in the ledger")
	rootCmd.AddCommand(matchCmd)
}

type outputTarget struct {
	dir     string
	base    string
	formats []string
}

// matchResult is what a match run produced, including the files written.
type matchResult struct {
	RunID   string
	Status  model.RunStatus
	Outcome *reconcile.Outcome
	Paths   []string
}

// executeMatch runs the reconciler and persists whatever it produced. Reports
// and the ledger entry are written even when ctx is cancelled mid-run. A nil
// store skips the ledger.
func executeMatch(ctx context.Context, rec *reconcile.Reconciler, st store.Store, w model.Window, out outputTarget) (*matchResult, error) {
	res := &matchResult{Status: model.RunStatusRunning}

	if st != nil {
		run, err := st.CreateRun(ctx, w)
		if err != nil {
			return nil, eris.Wrap(err, "match: create run")
		}
		res.RunID = run.ID
	}

	outcome, runErr := rec.Run(ctx, w)
	res.Outcome = outcome

	switch {
	case runErr == nil:
		res.Status = model.RunStatusComplete
	case ctx.Err() != nil:
		res.Status = model.RunStatusCancelled
	default:
		res.Status = model.RunStatusFailed
	}
	if runErr != nil {
		outcome.Summary.Error = runErr.Error()
	}

	// Persist with a context that outlives the interrupt.
	wctx := context.WithoutCancel(ctx)

	paths, werr := report.WriteAll(wctx, out.dir, out.base, out.formats, outcome.Guesses)
	if werr != nil {
		zap.L().Error("failed to write reports", zap.Error(werr))
		if runErr == nil {
			runErr = werr
			res.Status = model.RunStatusFailed
			outcome.Summary.Error = werr.Error()
		}
	}
	res.Paths = paths

	if st != nil {
		if err := st.SaveGuesses(wctx, res.RunID, outcome.Guesses); err != nil {
			zap.L().Error("failed to save guesses", zap.String("run_id", res.RunID), zap.Error(err))
			if runErr == nil {
				runErr = err
				res.Status = model.RunStatusFailed
				outcome.Summary.Error = err.Error()
			}
		}
		summary := outcome.Summary
		if err := st.FinishRun(wctx, res.RunID, res.Status, &summary); err != nil {
			zap.L().Error("failed to finish run", zap.String("run_id", res.RunID), zap.Error(err))
			if runErr == nil {
				runErr = err
			}
		}
	}

	return res, runErr
}

// formatSummary writes the end-of-run counters to w.
func formatSummary(out io.Writer, res *matchResult) {
	s := res.Outcome.Summary
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	}
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	_, _ = fmt.Fprintf(w, "Orders without phone:\t%d\n", s.IncompleteOrders)
	_, _ = fmt.Fprintf(w, "Unique names:\t%d\n", s.UniqueNames)
	_, _ = fmt.Fprintf(w, "Unknown names:\t%d\n", s.UnknownNames)
	_, _ = fmt.Fprintf(w, "Names matched:\t%d\n", s.NamesMatched)
	_, _ = fmt.Fprintf(w, "  From cache:\t%d\n", s.CacheHits)
	_, _ = fmt.Fprintf(w, "  From bulk data:\t%d\n", s.BulkHits)
	_, _ = fmt.Fprintf(w, "Remote searches:\t%d\n", s.RemoteSearches)
	_, _ = fmt.Fprintf(w, "Source failures:\t%d\n", s.SourceFailures)
	_, _ = fmt.Fprintf(w, "Missing token:\t%d\n", s.MissingToken)
	_, _ = fmt.Fprintf(w, "Guessed orders:\t%d\n", s.Guessed)
	_, _ = fmt.Fprintf(w, "  High:\t%d\n", s.High)
	_, _ = fmt.Fprintf(w, "  Medium:\t%d\n", s.Medium)
	_, _ = fmt.Fprintf(w, "  Low:\t%d\n", s.Low)
	for _, p := range res.Paths {
		_, _ = fmt.Fprintf(w, "Report:\t%s\n", p)
	}
	if s.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", s.Error)
	}
	_ = w.Flush()
}
