package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Contact holds the name and contact fields of a billing or shipping address.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	City      string `json:"city"`
}

// Amount is an order total. WooCommerce sends totals as strings while
// exported datasets often carry plain numbers, so both decode.
type Amount string

// UnmarshalJSON accepts a JSON string, number, or null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Amount(n.String())
	return nil
}

// Float returns the numeric value of the amount, or 0 if it does not parse.
func (a Amount) Float() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(a)), 64)
	if err != nil {
		return 0
	}
	return f
}

// OrderRecord is a single order as fetched from a source. Missing fields are
// resolved to zero values by the source adapter at ingestion.
type OrderRecord struct {
	ID            int64   `json:"id"`
	CreatedAt     string  `json:"date_created"`
	Billing       Contact `json:"billing"`
	Shipping      Contact `json:"shipping"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	ProviderToken string  `json:"provider_token,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Total         Amount  `json:"total"`
	Status        string  `json:"status"`
}

// Phone returns the trimmed billing phone.
func (o OrderRecord) Phone() string {
	return strings.TrimSpace(o.Billing.Phone)
}

// HasPhone reports whether the billing phone is non-blank.
func (o OrderRecord) HasPhone() bool {
	return o.Phone() != ""
}

func cityOf(billing, shipping Contact) string {
	if c := strings.TrimSpace(billing.City); c != "" {
		return c
	}
	return strings.TrimSpace(shipping.City)
}

// MatchResult is the ordered set of orders found to share a normalized name
// with a queried name. Every member carries a phone and non-zero IDs are
// unique.
type MatchResult []OrderRecord

// Phones returns the distinct phones in order of first appearance.
func (m MatchResult) Phones() []string {
	seen := make(map[string]bool, len(m))
	var out []string
	for _, o := range m {
		p := o.Phone()
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// NameGroup aggregates incomplete orders that share a normalized name.
type NameGroup struct {
	Key         string        `json:"key"`
	DisplayName string        `json:"display_name"`
	Orders      []OrderRecord `json:"orders"`
}
