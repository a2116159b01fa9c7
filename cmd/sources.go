package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ordermatch/internal/config"
	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/resilience"
	"github.com/sells-group/ordermatch/internal/source"
	"github.com/sells-group/ordermatch/internal/store"
	"github.com/sells-group/ordermatch/pkg/woocommerce"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts RFC3339, a bare local timestamp, or a date.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("invalid time %q (want RFC3339, 2006-01-02T15:04:05 or 2006-01-02)", s)
}

// parseWindow builds the run window. An empty before means now.
func parseWindow(after, before string, now time.Time) (model.Window, error) {
	w := model.Window{Before: now}
	if after != "" {
		t, err := parseTime(after)
		if err != nil {
			return w, eris.Wrap(err, "parse --after")
		}
		w.After = t
	}
	if before != "" {
		t, err := parseTime(before)
		if err != nil {
			return w, eris.Wrap(err, "parse --before")
		}
		w.Before = t
	}
	if !w.After.IsZero() && !w.Before.After(w.After) {
		return w, eris.Errorf("window end %s is not after start %s",
			w.Before.Format(time.RFC3339), w.After.Format(time.RFC3339))
	}
	return w, nil
}

// newRemote builds a rate-bounded WooCommerce source with its own breaker.
func newRemote(wc config.WooCommerceConfig, match config.MatchConfig, br config.BreakerConfig) *source.Remote {
	client := woocommerce.NewClient(wc.BaseURL, wc.ConsumerKey, wc.ConsumerSecret,
		woocommerce.WithTimeout(wc.Timeout()),
	)
	return source.NewRemote(wc.Name, client,
		source.WithPageDelay(match.PageDelay()),
		source.WithBreaker(resilience.BreakerConfig{
			FailureThreshold: br.FailureThreshold,
			ResetTimeout:     time.Duration(br.ResetTimeoutSecs) * time.Second,
		}),
	)
}

// buildSources returns the extraction source and the ordered name-search
// sources. Online, the primary store is searched first, then each backup.
// Offline, the bulk dataset is the only source and nothing is searched
// remotely.
func buildSources(c *config.Config, offline bool, bulk *source.Bulk) (source.Source, []source.Source, error) {
	if offline {
		if bulk == nil {
			return nil, nil, eris.Errorf("offline mode needs a readable bulk dataset (match.bulk_file=%q)", c.Match.BulkFile)
		}
		return bulk, nil, nil
	}

	primary := newRemote(c.WooCommerce, c.Match, c.Breaker)
	remotes := []source.Source{primary}

	backups, err := config.LoadSources(c.SourcesFile)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range backups {
		remotes = append(remotes, newRemote(b, c.Match, c.Breaker))
	}
	return primary, remotes, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}
