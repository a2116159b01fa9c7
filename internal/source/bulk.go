package source

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ordermatch/internal/fetcher"
	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/names"
)

const defaultPerPage = 100

// BulkName is the source name reported by the bulk dataset.
const BulkName = "bulk"

// bulkContact is the nested address shape of the exported dataset.
type bulkContact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	City      string `json:"city"`
}

// bulkOrder is one element of the exported dataset file.
type bulkOrder struct {
	OrderID       json.Number  `json:"orderId"`
	OrderDate     string       `json:"orderDate"`
	Billing       bulkContact  `json:"billing"`
	Shipping      bulkContact  `json:"shipping"`
	Total         model.Amount `json:"total"`
	Status        string       `json:"status"`
	PaymentMethod string       `json:"payment_method"`
	Token         string       `json:"_snapppay_token"`
	TransactionID string       `json:"_transaction_id"`
}

// record converts the export shape. A missing or non-integer orderId yields
// ID 0, which Lookup treats as "no identity".
func (b bulkOrder) record(defaultPaymentMethod string) model.OrderRecord {
	id, err := b.OrderID.Int64()
	if err != nil {
		id = 0
	}
	pm := strings.TrimSpace(b.PaymentMethod)
	if pm == "" {
		pm = defaultPaymentMethod
	}
	return model.OrderRecord{
		ID:        id,
		CreatedAt: b.OrderDate,
		Billing: model.Contact{
			FirstName: b.Billing.FirstName,
			LastName:  b.Billing.LastName,
			Phone:     b.Billing.Phone,
			Email:     b.Billing.Email,
			City:      b.Billing.City,
		},
		Shipping: model.Contact{
			FirstName: b.Shipping.FirstName,
			LastName:  b.Shipping.LastName,
			City:      b.Shipping.City,
		},
		PaymentMethod: pm,
		ProviderToken: strings.TrimSpace(b.Token),
		TransactionID: strings.TrimSpace(b.TransactionID),
		Total:         b.Total,
		Status:        b.Status,
	}
}

// Bulk is a previously exported snapshot of orders held in memory. It is
// searched before any live source.
type Bulk struct {
	records []model.OrderRecord
	byName  map[string][]int
}

// NewBulk indexes records by normalized name.
func NewBulk(records []model.OrderRecord) *Bulk {
	b := &Bulk{
		records: records,
		byName:  make(map[string][]int),
	}
	for i, r := range records {
		key := names.Key(r)
		b.byName[key] = append(b.byName[key], i)
	}
	return b
}

// LoadBulk reads the dataset at location (path or URL). A missing or
// unparsable dataset is logged and yields nil: matching proceeds without it.
// Records without a payment method get defaultPaymentMethod.
func LoadBulk(ctx context.Context, location, defaultPaymentMethod string) *Bulk {
	if location == "" {
		return nil
	}
	log := zap.L().With(zap.String("bulk_file", location))

	rc, err := fetcher.Open(ctx, location)
	if err != nil {
		log.Warn("bulk dataset unavailable, matching with remote sources only", zap.Error(err))
		return nil
	}
	defer rc.Close() //nolint:errcheck

	var records []model.OrderRecord
	missingID := 0
	_, err = fetcher.DecodeJSONArray(ctx, rc, func(o bulkOrder) error {
		rec := o.record(defaultPaymentMethod)
		if rec.ID == 0 {
			missingID++
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		log.Warn("bulk dataset unreadable, matching with remote sources only", zap.Error(err))
		return nil
	}
	if len(records) == 0 {
		log.Warn("bulk dataset is empty")
		return nil
	}

	if missingID > 0 {
		log.Warn("bulk orders without a usable orderId", zap.Int("count", missingID))
	}
	log.Info("loaded bulk dataset", zap.Int("orders", len(records)))
	return NewBulk(records)
}

// Name returns BulkName.
func (b *Bulk) Name() string {
	return BulkName
}

// Len returns the number of orders in the dataset.
func (b *Bulk) Len() int {
	if b == nil {
		return 0
	}
	return len(b.records)
}

// Lookup returns the orders whose normalized name equals key and that carry
// a phone, in dataset order, without duplicate IDs. Records exported without
// an order id are distinct orders and are never collapsed.
func (b *Bulk) Lookup(key string) model.MatchResult {
	if b == nil {
		return nil
	}
	var out model.MatchResult
	seen := make(map[int64]bool)
	for _, i := range b.byName[key] {
		r := b.records[i]
		if !r.HasPhone() {
			continue
		}
		if r.ID != 0 {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
		}
		out = append(out, r)
	}
	return out
}

// Fetch serves the dataset through the Source contract, applying the
// filter in memory. Records keep dataset order.
func (b *Bulk) Fetch(ctx context.Context, f Filter) Page {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	if b == nil {
		return Page{}
	}

	var matched []model.OrderRecord
	for _, r := range b.records {
		if matchesFilter(r, f) {
			matched = append(matched, r)
		}
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	totalPages := (len(matched) + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * perPage
	if start >= len(matched) {
		return Page{TotalPages: totalPages, TotalItems: len(matched)}
	}
	end := min(start+perPage, len(matched))

	return Page{
		Records:    slices.Clone(matched[start:end]),
		HasMore:    page < totalPages,
		TotalPages: totalPages,
		TotalItems: len(matched),
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func matchesFilter(r model.OrderRecord, f Filter) bool {
	if f.PaymentMethod != "" && r.PaymentMethod != f.PaymentMethod {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if !f.After.IsZero() || !f.Before.IsZero() {
		// Undated records are kept; the window is advisory for exports.
		if t, ok := parseDate(r.CreatedAt); ok {
			if !f.After.IsZero() && !t.After(f.After) {
				return false
			}
			if !f.Before.IsZero() && !t.Before(f.Before) {
				return false
			}
		}
	}
	if f.Search != "" {
		if !strings.Contains(names.Key(r), names.Normalize(f.Search)) {
			return false
		}
	}
	return true
}
