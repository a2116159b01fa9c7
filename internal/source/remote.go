package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/resilience"
	"github.com/sells-group/ordermatch/pkg/woocommerce"
)

// Meta keys that carry the payment-provider token and transaction id.
var (
	TokenMetaKeys       = []string{"_order_spp_token", "_paymentToken"}
	TransactionMetaKeys = []string{"_transactionId"}
)

// RemoteOption configures a Remote source.
type RemoteOption func(*Remote)

// WithPageDelay sets the minimum spacing between page fetches. Zero disables it.
func WithPageDelay(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithBreaker sets the circuit breaker guarding the source.
func WithBreaker(cfg resilience.BreakerConfig) RemoteOption {
	return func(r *Remote) {
		r.breaker = resilience.NewBreaker(r.name, cfg)
	}
}

// Remote is a live WooCommerce store queried page by page.
type Remote struct {
	name    string
	client  woocommerce.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewRemote wraps a WooCommerce client as a Source. By default pages are
// spaced 100ms apart and the breaker uses resilience.DefaultBreakerConfig.
func NewRemote(name string, client woocommerce.Client, opts ...RemoteOption) *Remote {
	if name == "" {
		name = client.BaseURL()
	}
	r := &Remote{
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
	r.breaker = resilience.NewBreaker(name, resilience.DefaultBreakerConfig())
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name returns the source name used in logs.
func (r *Remote) Name() string {
	return r.name
}

// Breaker exposes the source's circuit breaker.
func (r *Remote) Breaker() *resilience.Breaker {
	return r.breaker
}

// Fetch requests one page from the store.
func (r *Remote) Fetch(ctx context.Context, f Filter) Page {
	if err := r.breaker.Allow(); err != nil {
		return Failed(eris.Wrapf(err, "remote %s", r.name))
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Failed(eris.Wrap(err, "remote: rate limit wait"))
		}
	}

	resp, err := r.client.ListOrders(ctx, woocommerce.ListParams{
		After:         f.After,
		Before:        f.Before,
		PaymentMethod: f.PaymentMethod,
		Statuses:      f.Statuses,
		Search:        f.Search,
		PerPage:       f.PerPage,
		Page:          f.Page,
		OrderBy:       f.OrderBy,
		Order:         f.Order,
	})
	r.breaker.Record(err)
	if err != nil {
		zap.L().Warn("remote page fetch failed",
			zap.String("source", r.name),
			zap.Int("page", f.Page),
			zap.String("search", f.Search),
			zap.String("class", resilience.Classify(err)),
			zap.Error(err),
		)
		return Failed(err)
	}

	records := make([]model.OrderRecord, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		records = append(records, FromWooCommerce(o))
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	return Page{
		Records:    records,
		HasMore:    page < resp.TotalPages,
		TotalPages: resp.TotalPages,
		TotalItems: resp.TotalItems,
	}
}

// FromWooCommerce converts an API order into an OrderRecord.
func FromWooCommerce(o woocommerce.Order) model.OrderRecord {
	txn := strings.TrimSpace(o.Meta(TransactionMetaKeys...))
	if txn == "" {
		txn = strings.TrimSpace(o.TransactionID)
	}
	return model.OrderRecord{
		ID:        o.ID,
		CreatedAt: o.DateCreated,
		Billing: model.Contact{
			FirstName: o.Billing.FirstName,
			LastName:  o.Billing.LastName,
			Phone:     o.Billing.Phone,
			Email:     o.Billing.Email,
			City:      o.Billing.City,
		},
		Shipping: model.Contact{
			FirstName: o.Shipping.FirstName,
			LastName:  o.Shipping.LastName,
			City:      o.Shipping.City,
		},
		PaymentMethod: o.PaymentMethod,
		ProviderToken: strings.TrimSpace(o.Meta(TokenMetaKeys...)),
		TransactionID: txn,
		Total:         model.Amount(o.Total),
		Status:        o.Status,
	}
}
