// Package woocommerce is a minimal client for the WooCommerce REST v3
// orders endpoint.
package woocommerce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ordermatch/internal/resilience"
)

const (
	ordersPath     = "/wp-json/wc/v3/orders"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 200
)

// Client lists orders from a WooCommerce store.
type Client interface {
	ListOrders(ctx context.Context, params ListParams) (*OrdersPage, error)
	BaseURL() string
}

// ListParams are the query parameters of GET /orders. Zero values are omitted.
type ListParams struct {
	After         time.Time
	Before        time.Time
	PaymentMethod string
	Statuses      []string
	Search        string
	PerPage       int
	Page          int
	OrderBy       string
	Order         string
}

// Values encodes the params as a query string (without credentials).
func (p ListParams) Values() url.Values {
	v := url.Values{}
	if !p.After.IsZero() {
		v.Set("after", p.After.Format("2006-01-02T15:04:05"))
	}
	if !p.Before.IsZero() {
		v.Set("before", p.Before.Format("2006-01-02T15:04:05"))
	}
	if p.PaymentMethod != "" {
		v.Set("payment_method", p.PaymentMethod)
	}
	if len(p.Statuses) > 0 {
		v.Set("status", strings.Join(p.Statuses, ","))
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.OrderBy != "" {
		v.Set("orderby", p.OrderBy)
	}
	if p.Order != "" {
		v.Set("order", p.Order)
	}
	return v
}

// OrdersPage is one page of orders plus the pagination headers.
type OrdersPage struct {
	Orders     []Order
	TotalPages int
	TotalItems int
}

// Address is a billing or shipping address.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	City      string `json:"city"`
}

// MetaData is one entry of an order's meta_data list.
type MetaData struct {
	ID    int64           `json:"id"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// StringValue returns the meta value when it is a JSON string or number.
func (m MetaData) StringValue() string {
	if len(m.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Value, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(m.Value, &n); err == nil {
		return n.String()
	}
	return ""
}

// Order is the subset of the WooCommerce order object this tool reads.
type Order struct {
	ID            int64      `json:"id"`
	Status        string     `json:"status"`
	DateCreated   string     `json:"date_created"`
	Total         string     `json:"total"`
	PaymentMethod string     `json:"payment_method"`
	TransactionID string     `json:"transaction_id"`
	Billing       Address    `json:"billing"`
	Shipping      Address    `json:"shipping"`
	MetaData      []MetaData `json:"meta_data"`
}

// Meta returns the first non-empty meta value among keys, in key order.
func (o Order) Meta(keys ...string) string {
	for _, k := range keys {
		for _, m := range o.MetaData {
			if m.Key == k {
				if v := m.StringValue(); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
}

// NewClient creates a client for the store at baseURL.
func NewClient(baseURL, consumerKey, consumerSecret string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     consumerKey,
		secret:  consumerSecret,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) BaseURL() string {
	return c.baseURL
}

func (c *httpClient) ListOrders(ctx context.Context, params ListParams) (*OrdersPage, error) {
	q := params.Values()
	// Some hosts strip the Authorization header, so credentials also go in the query.
	q.Set("consumer_key", c.key)
	q.Set("consumer_secret", c.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ordersPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "woocommerce: create request")
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "woocommerce: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "woocommerce: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		statusErr := eris.Errorf("woocommerce: unexpected status %d: %s", resp.StatusCode, snippet)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var orders []Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, eris.Wrap(err, "woocommerce: unmarshal orders")
	}

	return &OrdersPage{
		Orders:     orders,
		TotalPages: headerInt(resp.Header, "X-WP-TotalPages", 1),
		TotalItems: headerInt(resp.Header, "X-WP-Total", 0),
	}, nil
}

func headerInt(h http.Header, key string, def int) int {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
