package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ordermatch/internal/matchcache"
	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/names"
	"github.com/sells-group/ordermatch/internal/source"
)

const provider = "WC_Gateway_SnappPay"

// fakeSource serves fixed pages for the structured extraction filter and
// per-query pages for name searches.
type fakeSource struct {
	name     string
	extract  [][]model.OrderRecord
	searches map[string][][]model.OrderRecord
	fail     bool
	// failAfter > 0 fails every page past that number.
	failAfter int
	onFetch   func()

	queries []string
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(ctx context.Context, f source.Filter) source.Page {
	if s.onFetch != nil {
		s.onFetch()
	}
	if err := ctx.Err(); err != nil {
		return source.Failed(err)
	}
	if s.fail || (s.failAfter > 0 && f.Page > s.failAfter) {
		return source.Failed(errors.New("woocommerce: unexpected status 503"))
	}

	pages := s.extract
	if f.Search != "" {
		if f.Page == 1 {
			s.queries = append(s.queries, f.Search)
		}
		pages = s.searches[f.Search]
	}
	if f.Page > len(pages) {
		return source.Page{TotalPages: len(pages)}
	}
	return source.Page{
		Records:    pages[f.Page-1],
		HasMore:    f.Page < len(pages),
		TotalPages: len(pages),
	}
}

func order(id int64, first, last, phone, token string) model.OrderRecord {
	return model.OrderRecord{
		ID:            id,
		CreatedAt:     "2025-01-02T10:00:00",
		Billing:       model.Contact{FirstName: first, LastName: last, Phone: phone},
		PaymentMethod: provider,
		ProviderToken: token,
		Status:        "completed",
	}
}

func newReconciler(primary source.Source, remotes []source.Source, bulk *source.Bulk, cache *matchcache.Cache) *Reconciler {
	return New(Options{
		Primary: primary,
		Remotes: remotes,
		Bulk:    bulk,
		Cache:   cache,
		Config:  Config{PaymentMethod: provider, Statuses: []string{"processing", "completed"}, PerPage: 100},
	})
}

func TestExtract_FiltersPhoneAndProvider(t *testing.T) {
	t.Parallel()

	other := order(4, "Reza", "Karimi", "", "t4")
	other.PaymentMethod = "cod"
	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{
		{order(1, "Ali", "Rezaei", "", "t1"), order(2, "Ali", "Rezaei", "0912", "")},
		{order(3, "Sara", "Ahmadi", "  ", "t3"), other},
	}}

	r := newReconciler(primary, nil, nil, nil)
	got, err := r.Extract(context.Background(), model.Window{})
	require.NoError(t, err)

	var ids []int64
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestExtract_FailureKeepsCollected(t *testing.T) {
	t.Parallel()

	primary := &failAfter{pages: [][]model.OrderRecord{{order(1, "Ali", "Rezaei", "", "t1")}, {order(2, "B", "C", "", "t2")}}, failOn: 2}
	r := newReconciler(primary, nil, nil, nil)

	got, err := r.Extract(context.Background(), model.Window{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, r.summary.SourceFailures)
}

type failAfter struct {
	pages  [][]model.OrderRecord
	failOn int
}

func (s *failAfter) Name() string { return "flaky" }

func (s *failAfter) Fetch(_ context.Context, f source.Filter) source.Page {
	if f.Page == s.failOn {
		return source.Failed(errors.New("connection reset by peer"))
	}
	return source.Page{Records: s.pages[f.Page-1], HasMore: f.Page < len(s.pages), TotalPages: len(s.pages)}
}

func TestGroup(t *testing.T) {
	t.Parallel()

	records := []model.OrderRecord{
		order(1, "Ali", "Rezaei", "", "t1"),
		order(2, "Sara", "Ahmadi", "", "t2"),
		order(3, "  ALI ", "rezaei", "", "t3"),
		{ID: 4},
	}
	groups := Group(records)
	require.Len(t, groups, 2)
	assert.Equal(t, "ali rezaei", groups[0].Key)
	assert.Equal(t, "Ali Rezaei", groups[0].DisplayName)
	assert.Len(t, groups[0].Orders, 2)
	assert.Equal(t, "sara ahmadi", groups[1].Key)
}

func TestRun_AliRezaeiHigh(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{
		{order(100, "Ali", "Rezaei", "", "tok-100")},
	}}
	bulk := source.NewBulk([]model.OrderRecord{
		order(1, "Ali", "Rezaei", "0912", ""),
		order(2, "ali", "rezaei", "0912", ""),
		order(3, "ALI", "REZAEI", "0912", ""),
	})
	remote := &fakeSource{name: "remote"}

	out, err := newReconciler(primary, []source.Source{remote}, bulk, nil).Run(context.Background(), model.Window{})
	require.NoError(t, err)
	require.Len(t, out.Guesses, 1)

	g := out.Guesses[0]
	assert.Equal(t, int64(100), g.OrderID)
	assert.Equal(t, "0912", g.GuessedPhone)
	assert.Equal(t, model.ConfidenceHigh, g.Confidence)
	assert.Equal(t, 3, g.MatchingOrdersCount)
	assert.Equal(t, 1, g.UniquePhoneCount)
	assert.Equal(t, model.TierBulk, g.Tier)
	assert.Equal(t, "tok-100", g.ProviderToken)
	assert.Empty(t, remote.queries, "bulk hit skips remote search")

	assert.Equal(t, 1, out.Summary.BulkHits)
	assert.Equal(t, 1, out.Summary.High)
}

func TestRun_SplitIsLow(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{
		{order(100, "Reza", "Karimi", "", "tok")},
	}}
	remote := &fakeSource{name: "remote", searches: map[string][][]model.OrderRecord{
		"Reza Karimi": {{order(1, "Reza", "Karimi", "0935", ""), order(2, "Reza", "Karimi", "0912", "")}},
	}}

	out, err := newReconciler(primary, []source.Source{remote}, nil, nil).Run(context.Background(), model.Window{})
	require.NoError(t, err)
	require.Len(t, out.Guesses, 1)
	assert.Equal(t, model.ConfidenceLow, out.Guesses[0].Confidence)
	assert.Equal(t, "0912", out.Guesses[0].GuessedPhone)
	assert.Equal(t, 2, out.Guesses[0].UniquePhoneCount)
	assert.Equal(t, model.TierRemote, out.Guesses[0].Tier)
}

func TestRun_EmptyCacheEntryIsSearchedAgain(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sara ahmadi": []}`), 0o644))
	cache := matchcache.Load(path)

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{
		{order(100, "Sara", "Ahmadi", "", "tok")},
	}}
	remote := &fakeSource{name: "remote", searches: map[string][][]model.OrderRecord{
		"Sara Ahmadi": {{order(7, "Sara", "Ahmadi", "0935", "")}},
	}}

	out, err := newReconciler(primary, []source.Source{remote}, nil, cache).Run(context.Background(), model.Window{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sara Ahmadi"}, remote.queries)
	require.Len(t, out.Guesses, 1)
	assert.Equal(t, model.ConfidenceMedium, out.Guesses[0].Confidence)

	persisted, ok := matchcache.Load(path).Get("sara ahmadi")
	require.True(t, ok)
	require.Len(t, persisted, 1)
	assert.Equal(t, int64(7), persisted[0].ID)
}

func TestRun_NonEmptyCacheSkipsSearch(t *testing.T) {
	t.Parallel()

	cache := matchcache.New("")
	cache.Put("sara ahmadi", model.MatchResult{order(7, "Sara", "Ahmadi", "0935", "")})

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{{order(100, "Sara", "Ahmadi", "", "tok")}}}
	remote := &fakeSource{name: "remote"}

	out, err := newReconciler(primary, []source.Source{remote}, nil, cache).Run(context.Background(), model.Window{})
	require.NoError(t, err)
	assert.Empty(t, remote.queries)
	require.Len(t, out.Guesses, 1)
	assert.Equal(t, model.TierCache, out.Guesses[0].Tier)
	assert.Equal(t, 1, out.Summary.CacheHits)
}

func TestRun_RefreshBypassesCache(t *testing.T) {
	t.Parallel()

	cache := matchcache.New("")
	cache.Put("sara ahmadi", model.MatchResult{order(7, "Sara", "Ahmadi", "0935", "")})

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{{order(100, "Sara", "Ahmadi", "", "tok")}}}
	remote := &fakeSource{name: "remote"}

	r := New(Options{
		Primary: primary,
		Remotes: []source.Source{remote},
		Cache:   cache,
		Config:  Config{PaymentMethod: provider, Refresh: true},
	})
	out, err := r.Run(context.Background(), model.Window{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sara Ahmadi"}, remote.queries)
	assert.Empty(t, out.Guesses)

	got, ok := cache.Get("sara ahmadi")
	require.True(t, ok)
	assert.Empty(t, got, "forced search overwrites the entry")
}

func TestRun_MissingTokenExcluded(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{
		{order(100, "Ali", "Rezaei", "", ""), order(101, "Ali", "Rezaei", "", "tok-101")},
	}}
	bulk := source.NewBulk([]model.OrderRecord{order(1, "Ali", "Rezaei", "0912", "")})

	out, err := newReconciler(primary, nil, bulk, nil).Run(context.Background(), model.Window{})
	require.NoError(t, err)
	require.Len(t, out.Guesses, 1)
	assert.Equal(t, int64(101), out.Guesses[0].OrderID)
	assert.Equal(t, 1, out.Summary.MissingToken)
}

func TestRun_DedupAcrossSourcesAndPhoneInvariant(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{{order(100, "Ali", "Rezaei", "", "tok")}}}
	first := &fakeSource{name: "first", searches: map[string][][]model.OrderRecord{
		"Ali Rezaei": {
			{order(1, "Ali", "Rezaei", "0912", ""), order(2, "Ali", "Rezaei", "", "")},
			{order(3, "Ali", "Rezaeian", "0999", ""), order(1, "Ali", "Rezaei", "0912", "")},
		},
	}}
	second := &fakeSource{name: "second", searches: map[string][][]model.OrderRecord{
		"Ali Rezaei": {{order(1, "Ali", "Rezaei", "0912", ""), order(4, "Ali", "Rezaei", "0912", "")}},
	}}
	cache := matchcache.New("")

	out, err := newReconciler(primary, []source.Source{first, second}, nil, cache).Run(context.Background(), model.Window{})
	require.NoError(t, err)

	got, _ := cache.Get("ali rezaei")
	ids := make(map[int64]int)
	for _, o := range got {
		ids[o.ID]++
		assert.True(t, o.HasPhone())
		assert.Equal(t, "ali rezaei", names.Key(o))
	}
	assert.Equal(t, map[int64]int{1: 1, 4: 1}, ids)

	require.Len(t, out.Guesses, 1)
	assert.Equal(t, model.ConfidenceHigh, out.Guesses[0].Confidence)
	assert.Equal(t, 2, out.Guesses[0].MatchingOrdersCount)
}

func TestRun_FailingSourceContinues(t *testing.T) {
	t.Parallel()

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{{order(100, "Ali", "Rezaei", "", "tok")}}}
	broken := &fakeSource{name: "broken", fail: true}
	backup := &fakeSource{name: "backup", searches: map[string][][]model.OrderRecord{
		"Ali Rezaei": {{order(1, "Ali", "Rezaei", "0912", "")}},
	}}

	out, err := newReconciler(primary, []source.Source{broken, backup}, nil, nil).Run(context.Background(), model.Window{})
	require.NoError(t, err)
	require.Len(t, out.Guesses, 1)
	assert.Equal(t, "0912", out.Guesses[0].GuessedPhone)
	assert.Equal(t, 1, out.Summary.SourceFailures)
	assert.Equal(t, 2, out.Summary.RemoteSearches)
}

func TestRun_PartialSearchIsCachedAndTrusted(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	extract := [][]model.OrderRecord{{order(100, "Ali", "Rezaei", "", "tok")}}
	flaky := &fakeSource{name: "flaky", failAfter: 1, searches: map[string][][]model.OrderRecord{
		"Ali Rezaei": {
			{order(1, "Ali", "Rezaei", "0912", "")},
			{order(2, "Ali", "Rezaei", "0935", "")},
		},
	}}

	out, err := newReconciler(&fakeSource{name: "primary", extract: extract}, []source.Source{flaky}, nil, matchcache.Load(path)).
		Run(context.Background(), model.Window{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Summary.SourceFailures)
	require.Len(t, out.Guesses, 1)
	assert.Equal(t, "0912", out.Guesses[0].GuessedPhone)

	persisted, ok := matchcache.Load(path).Get("ali rezaei")
	require.True(t, ok)
	require.Len(t, persisted, 1, "records before the failure are kept")

	healthy := &fakeSource{name: "healthy", searches: flaky.searches}
	again, err := newReconciler(&fakeSource{name: "primary", extract: extract}, []source.Source{healthy}, nil, matchcache.Load(path)).
		Run(context.Background(), model.Window{})
	require.NoError(t, err)
	assert.Empty(t, healthy.queries, "non-empty partial result is not searched again")
	require.Len(t, again.Guesses, 1)
	assert.Equal(t, model.TierCache, again.Guesses[0].Tier)
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	build := func() *Reconciler {
		primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{
			{order(100, "Ali", "Rezaei", "", "t100"), order(101, "Sara", "Ahmadi", "", "t101"), order(102, "Nobody", "Here", "", "t102")},
		}}
		remote := &fakeSource{name: "remote", searches: map[string][][]model.OrderRecord{
			"Ali Rezaei":  {{order(1, "Ali", "Rezaei", "0912", ""), order(2, "Ali", "Rezaei", "0912", "")}},
			"Sara Ahmadi": {{order(3, "Sara", "Ahmadi", "0935", "")}},
		}}
		return newReconciler(primary, []source.Source{remote}, nil, matchcache.New(""))
	}

	first, err := build().Run(context.Background(), model.Window{})
	require.NoError(t, err)
	second, err := build().Run(context.Background(), model.Window{})
	require.NoError(t, err)

	assert.Equal(t, first.Guesses, second.Guesses)
	assert.Len(t, first.Guesses, 2)
}

func TestRun_CancelledStillFlushes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	primary := &fakeSource{name: "primary", extract: [][]model.OrderRecord{
		{order(100, "Ali", "Rezaei", "", "t100"), order(101, "Sara", "Ahmadi", "", "t101")},
	}}
	remote := &fakeSource{name: "remote", searches: map[string][][]model.OrderRecord{
		"Ali Rezaei": {{order(1, "Ali", "Rezaei", "0912", "")}},
	}}
	remote.onFetch = func() {
		if len(remote.queries) == 1 {
			// The first name's search is done; interrupt before the next.
			remote.onFetch = nil
			cancel()
		}
	}

	out, err := newReconciler(primary, []source.Source{remote}, nil, matchcache.Load(path)).Run(ctx, model.Window{})
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
	require.NotNil(t, out)
	assert.Len(t, out.Guesses, 1)

	persisted := matchcache.Load(path)
	_, ok := persisted.Get("ali rezaei")
	assert.True(t, ok, "completed search was flushed")
	_, ok = persisted.Get("sara ahmadi")
	assert.False(t, ok, "interrupted search is not cached")
}
