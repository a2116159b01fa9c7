// Package source defines the paginated order-fetch capability and its two
// providers: the in-memory bulk dataset and live WooCommerce stores.
package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ordermatch/internal/model"
)

// Filter selects orders. Extraction sets Statuses; name searches set Search.
type Filter struct {
	After         time.Time
	Before        time.Time
	PaymentMethod string
	Statuses      []string
	Search        string
	Page          int
	PerPage       int
	OrderBy       string
	Order         string
}

// Outcome classifies a fetched page.
type Outcome int

const (
	// OutcomeData means the page carried at least one record.
	OutcomeData Outcome = iota
	// OutcomeEmpty means the request succeeded with no records.
	OutcomeEmpty
	// OutcomeFailed means the request failed; Err is set.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeData:
		return "data"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Page is one page of a fetch.
type Page struct {
	Records    []model.OrderRecord
	HasMore    bool
	TotalPages int
	TotalItems int
	Err        error
}

// Outcome classifies the page.
func (p Page) Outcome() Outcome {
	switch {
	case p.Err != nil:
		return OutcomeFailed
	case len(p.Records) == 0:
		return OutcomeEmpty
	default:
		return OutcomeData
	}
}

// Failed builds a failed page.
func Failed(err error) Page {
	return Page{Err: err}
}

// Source returns one page of orders per call. Failures are reported in
// Page.Err rather than aborting the caller.
type Source interface {
	Name() string
	Fetch(ctx context.Context, f Filter) Page
}

// Walk pages through src starting at page 1 and calls fn for every page
// that carries records. It stops when a page reports no further pages, a
// page is empty, fn returns false, or ctx is done. A failed page stops the
// walk and its error is returned; records already handed to fn stand.
func Walk(ctx context.Context, src Source, f Filter, fn func(Page) bool) error {
	f.Page = 1
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "source: %s: walk cancelled", src.Name())
		}

		p := src.Fetch(ctx, f)
		switch p.Outcome() {
		case OutcomeFailed:
			return eris.Wrapf(p.Err, "source: %s: page %d", src.Name(), f.Page)
		case OutcomeEmpty:
			return nil
		}

		if !fn(p) || !p.HasMore {
			return nil
		}
		f.Page++
	}
}
