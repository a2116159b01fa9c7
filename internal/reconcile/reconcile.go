// Package reconcile guesses phone numbers for orders that arrived without one
// by matching customer names against orders that carry a phone.
package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ordermatch/internal/matchcache"
	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/names"
	"github.com/sells-group/ordermatch/internal/scorer"
	"github.com/sells-group/ordermatch/internal/source"
)

// Config controls extraction and search.
type Config struct {
	// PaymentMethod is the provider whose incomplete orders are extracted.
	PaymentMethod string
	// Statuses is the status allow-list for extraction.
	Statuses []string
	// PerPage is the page size used for every request.
	PerPage int
	// Refresh ignores cached results and overwrites them with fresh searches.
	Refresh bool
}

// Options wires a Reconciler.
type Options struct {
	Primary source.Source
	Remotes []source.Source
	Bulk    *source.Bulk
	Cache   *matchcache.Cache
	Scorer  scorer.Config
	Config  Config
}

// Outcome is the product of a run. It is returned even when the run stops
// early, holding whatever was produced up to that point.
type Outcome struct {
	Guesses []model.GuessedOrder
	Summary model.RunSummary
}

// Reconciler runs one reconciliation. It is single-threaded: sources are
// queried in order and pages in increasing order.
type Reconciler struct {
	primary source.Source
	remotes []source.Source
	bulk    *source.Bulk
	cache   *matchcache.Cache
	scoring scorer.Config
	cfg     Config

	summary model.RunSummary
}

// New creates a Reconciler. A nil cache is replaced by an in-memory one.
func New(opts Options) *Reconciler {
	cache := opts.Cache
	if cache == nil {
		cache = matchcache.New("")
	}
	scoring := opts.Scorer
	if scoring == (scorer.Config{}) {
		scoring = scorer.DefaultConfig()
	}
	return &Reconciler{
		primary: opts.Primary,
		remotes: opts.Remotes,
		bulk:    opts.Bulk,
		cache:   cache,
		scoring: scoring,
		cfg:     opts.Config,
	}
}

// Extract pages through the primary source and returns the orders of the
// configured provider that have no billing phone. A failed page ends
// extraction with the orders collected so far; only cancellation is an error.
func (r *Reconciler) Extract(ctx context.Context, w model.Window) ([]model.OrderRecord, error) {
	if r.primary == nil {
		return nil, eris.New("reconcile: no primary source")
	}

	f := source.Filter{
		After:         w.After,
		Before:        w.Before,
		PaymentMethod: r.cfg.PaymentMethod,
		Statuses:      r.cfg.Statuses,
		PerPage:       r.cfg.PerPage,
		OrderBy:       "date",
		Order:         "desc",
	}

	var out []model.OrderRecord
	err := source.Walk(ctx, r.primary, f, func(p source.Page) bool {
		kept := 0
		for _, rec := range p.Records {
			if rec.PaymentMethod == r.cfg.PaymentMethod && !rec.HasPhone() {
				out = append(out, rec)
				kept++
			}
		}
		zap.L().Debug("extraction page",
			zap.String("source", r.primary.Name()),
			zap.Int("orders", len(p.Records)),
			zap.Int("without_phone", kept),
			zap.Int("total_pages", p.TotalPages),
		)
		return true
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		r.summary.SourceFailures++
		zap.L().Warn("extraction stopped early", zap.Int("collected", len(out)), zap.Error(err))
	}

	zap.L().Info("extracted orders without phone", zap.Int("count", len(out)))
	return out, nil
}

// Group buckets records by normalized name in first-appearance order. The
// first record of a group supplies its display name; records with no usable
// name are left out.
func Group(records []model.OrderRecord) []model.NameGroup {
	index := make(map[string]int)
	var groups []model.NameGroup
	for _, rec := range records {
		display := names.Display(rec)
		if names.IsUnknown(display) {
			continue
		}
		key := names.Normalize(display)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, model.NameGroup{Key: key, DisplayName: display})
		}
		groups[i].Orders = append(groups[i].Orders, rec)
	}
	return groups
}

// Lookup finds the orders with a phone that share the group's name. It
// consults the cache, then the bulk dataset, then every remote source in
// order, and records the result in the cache. An error is returned only when
// ctx is done; the partial search is then not cached.
func (r *Reconciler) Lookup(ctx context.Context, g model.NameGroup) (model.MatchResult, model.Tier, error) {
	log := zap.L().With(zap.String("name", g.DisplayName))

	if !r.cfg.Refresh {
		if cached, ok := r.cache.Get(g.Key); ok {
			if len(cached) > 0 {
				r.summary.CacheHits++
				log.Debug("cache hit", zap.Int("orders", len(cached)))
				return cached, model.TierCache, nil
			}
			log.Debug("cached empty result, searching again")
		}
	}

	if found := r.bulk.Lookup(g.Key); len(found) > 0 {
		r.summary.BulkHits++
		r.store(g.Key, found)
		return found, model.TierBulk, nil
	}

	result := model.MatchResult{}
	seen := make(map[int64]bool)
	for _, src := range r.remotes {
		r.summary.RemoteSearches++
		f := source.Filter{
			Search:  g.DisplayName,
			PerPage: r.cfg.PerPage,
			OrderBy: "date",
			Order:   "desc",
		}
		err := source.Walk(ctx, src, f, func(p source.Page) bool {
			for _, rec := range p.Records {
				if seen[rec.ID] {
					continue
				}
				seen[rec.ID] = true
				if names.Key(rec) == g.Key && rec.HasPhone() {
					result = append(result, rec)
				}
			}
			return true
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, model.TierNone, ctxErr
			}
			r.summary.SourceFailures++
			log.Warn("remote search failed, continuing with next source",
				zap.String("source", src.Name()), zap.Error(err))
		}
	}

	r.store(g.Key, result)
	if len(result) == 0 {
		return result, model.TierNone, nil
	}
	return result, model.TierRemote, nil
}

func (r *Reconciler) store(key string, result model.MatchResult) {
	if r.cfg.Refresh {
		r.cache.Replace(key, result)
		return
	}
	r.cache.Put(key, result)
}

// Emit builds one guess per incomplete order in the group. Orders without a
// provider token are dropped: they cannot be reconciled downstream.
func (r *Reconciler) Emit(g model.NameGroup, result model.MatchResult, a model.Assessment, tier model.Tier) []model.GuessedOrder {
	out := make([]model.GuessedOrder, 0, len(g.Orders))
	for _, o := range g.Orders {
		if o.ProviderToken == "" {
			r.summary.MissingToken++
			continue
		}
		out = append(out, model.GuessedOrder{
			OrderID:             o.ID,
			OrderDate:           o.CreatedAt,
			UserName:            g.DisplayName,
			ProviderToken:       o.ProviderToken,
			TransactionID:       o.TransactionID,
			GuessedPhone:        a.GuessedPhone,
			Confidence:          a.Confidence,
			MatchingOrdersCount: len(result),
			UniquePhoneCount:    a.UniquePhones,
			Tier:                tier,
			Billing:             o.Billing,
			Shipping:            o.Shipping,
			Total:               o.Total,
			Status:              o.Status,
		})
		r.summary.Count(a.Confidence)
	}
	return out
}

// Run extracts incomplete orders in w, matches every name and returns the
// guesses. The cache is flushed on every exit path. When ctx is cancelled the
// partial outcome is returned with ctx's error.
func (r *Reconciler) Run(ctx context.Context, w model.Window) (out *Outcome, err error) {
	r.summary = model.RunSummary{}
	out = &Outcome{}

	defer func() {
		if ferr := r.cache.Flush(); ferr != nil {
			zap.L().Error("failed to save match cache", zap.Error(ferr))
			if err == nil {
				err = ferr
			}
		}
		out.Summary = r.summary
	}()

	records, err := r.Extract(ctx, w)
	if err != nil {
		return out, err
	}
	r.summary.IncompleteOrders = len(records)

	groups := Group(records)
	r.summary.UniqueNames = len(groups)
	for _, rec := range records {
		if names.IsUnknown(names.Display(rec)) {
			r.summary.UnknownNames++
		}
	}
	zap.L().Info("matching names",
		zap.Int("names", len(groups)),
		zap.Int("unknown_name_orders", r.summary.UnknownNames),
		zap.Int("cached", r.cache.Len()),
		zap.Int("bulk_orders", r.bulk.Len()),
	)

	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			zap.L().Warn("run interrupted", zap.Int("names_done", i), zap.Int("names_total", len(groups)))
			return out, err
		}

		result, tier, err := r.Lookup(ctx, g)
		if err != nil {
			zap.L().Warn("run interrupted", zap.Int("names_done", i), zap.Int("names_total", len(groups)))
			return out, err
		}
		if len(result) == 0 {
			zap.L().Debug("no match", zap.String("name", g.DisplayName))
			continue
		}

		r.summary.NamesMatched++
		a := scorer.Score(r.scoring, result)
		zap.L().Info("matched name",
			zap.Int("progress", i+1),
			zap.Int("total", len(groups)),
			zap.String("name", g.DisplayName),
			zap.String("tier", string(tier)),
			zap.Int("matching_orders", len(result)),
			zap.Int("unique_phones", a.UniquePhones),
			zap.String("confidence", string(a.Confidence)),
		)
		out.Guesses = append(out.Guesses, r.Emit(g, result, a, tier)...)
	}

	return out, nil
}
