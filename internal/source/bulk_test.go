package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ordermatch/internal/model"
	"github.com/sells-group/ordermatch/internal/names"
	"github.com/sells-group/ordermatch/internal/scorer"
)

const bulkFixture = `[
  {"orderId": 10, "orderDate": "2024-12-01T09:00:00", "status": "completed", "total": 900000,
   "billing": {"first_name": "Ali", "last_name": "Rezaei", "phone": "0912", "city": "Tehran"},
   "_snapppay_token": "t10"},
  {"orderId": "11", "orderDate": "2024-12-05T09:00:00", "status": "completed", "total": "450000",
   "billing": {"first_name": "ali ", "last_name": "REZAEI", "phone": "0912"}},
  {"orderId": 12, "orderDate": "2024-12-07T09:00:00", "status": "pending",
   "billing": {"first_name": "Ali", "last_name": "Rezaei", "phone": ""}},
  {"orderId": 13, "orderDate": "2025-01-02T09:00:00", "status": "completed", "payment_method": "cod",
   "billing": {"first_name": "Sara", "last_name": "Ahmadi", "phone": "0935"}}
]`

func writeBulk(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulk.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBulk(t *testing.T) {
	t.Parallel()

	b := LoadBulk(context.Background(), writeBulk(t, bulkFixture), "WC_Gateway_SnappPay")
	require.NotNil(t, b)
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, BulkName, b.Name())

	got := b.Lookup(names.Normalize("Ali Rezaei"))
	require.Len(t, got, 2, "record without phone is excluded")
	assert.Equal(t, int64(10), got[0].ID)
	assert.Equal(t, int64(11), got[1].ID)
	assert.Equal(t, "t10", got[0].ProviderToken)
	assert.Equal(t, "WC_Gateway_SnappPay", got[0].PaymentMethod)
	assert.Equal(t, 450000.0, got[1].Total.Float())

	assert.Empty(t, b.Lookup(names.Normalize("Nobody")))
}

func TestLoadBulk_Degrades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Nil(t, LoadBulk(ctx, "", "x"))
	assert.Nil(t, LoadBulk(ctx, filepath.Join(t.TempDir(), "missing.json"), "x"))
	assert.Nil(t, LoadBulk(ctx, writeBulk(t, `{"not": "an array"}`), "x"))
	assert.Nil(t, LoadBulk(ctx, writeBulk(t, `[]`), "x"))

	var b *Bulk
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Lookup("ali rezaei"))
	assert.Equal(t, OutcomeEmpty, b.Fetch(ctx, Filter{}).Outcome())
}

func TestBulk_LookupDedupsIDs(t *testing.T) {
	t.Parallel()

	r := model.OrderRecord{ID: 5, Billing: model.Contact{FirstName: "A", LastName: "B", Phone: "1"}}
	b := NewBulk([]model.OrderRecord{r, r})
	assert.Len(t, b.Lookup("a b"), 1)
}

func TestLoadBulk_RecordsWithoutOrderIDAreKept(t *testing.T) {
	t.Parallel()

	content := `[
  {"orderDate": "2024-12-01T09:00:00", "billing": {"first_name": "Ali", "last_name": "Rezaei", "phone": "09121234567"}},
  {"orderId": null, "orderDate": "2024-12-02T09:00:00", "billing": {"first_name": "Ali", "last_name": "Rezaei", "phone": "09121234567"}},
  {"orderId": 7, "billing": {"first_name": "Ali", "last_name": "Rezaei", "phone": "09121234567"}},
  {"orderId": 7, "billing": {"first_name": "Ali", "last_name": "Rezaei", "phone": "09121234567"}}
]`
	b := LoadBulk(context.Background(), writeBulk(t, content), "WC_Gateway_SnappPay")
	require.NotNil(t, b)
	require.Equal(t, 4, b.Len())

	got := b.Lookup("ali rezaei")
	require.Len(t, got, 3, "id-less records stay distinct, real ids still dedup")
	assert.Equal(t, int64(0), got[0].ID)
	assert.Equal(t, int64(0), got[1].ID)
	assert.Equal(t, int64(7), got[2].ID)

	a := scorer.Score(scorer.DefaultConfig(), got)
	assert.Equal(t, model.ConfidenceHigh, a.Confidence)
	assert.Equal(t, "09121234567", a.GuessedPhone)
}

func TestBulk_Fetch(t *testing.T) {
	t.Parallel()

	b := LoadBulk(context.Background(), writeBulk(t, bulkFixture), "WC_Gateway_SnappPay")
	require.NotNil(t, b)

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{name: "all", filter: Filter{}, want: []int64{10, 11, 12, 13}},
		{name: "payment method", filter: Filter{PaymentMethod: "cod"}, want: []int64{13}},
		{name: "status", filter: Filter{Statuses: []string{"pending"}}, want: []int64{12}},
		{name: "search", filter: Filter{Search: "REZAEI"}, want: []int64{10, 11, 12}},
		{
			name:   "window",
			filter: Filter{After: time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC), Before: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
			want:   []int64{11, 12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := b.Fetch(context.Background(), tt.filter)
			require.NoError(t, p.Err)
			var ids []int64
			for _, r := range p.Records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestBulk_FetchPaginates(t *testing.T) {
	t.Parallel()

	b := LoadBulk(context.Background(), writeBulk(t, bulkFixture), "")
	require.NotNil(t, b)

	var pages []int
	err := Walk(context.Background(), b, Filter{PerPage: 3}, func(p Page) bool {
		pages = append(pages, len(p.Records))
		assert.Equal(t, 2, p.TotalPages)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, pages)

	beyond := b.Fetch(context.Background(), Filter{PerPage: 3, Page: 5})
	assert.Equal(t, OutcomeEmpty, beyond.Outcome())
	assert.Equal(t, 4, beyond.TotalItems)
}
