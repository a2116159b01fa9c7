package model

// Confidence is a coarse trust label for a guessed phone number.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidence labels: low < medium < high. Unknown labels rank 0.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// ParseConfidence maps a label to a Confidence. Empty input yields low.
func ParseConfidence(s string) (Confidence, bool) {
	switch Confidence(s) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(s), true
	case "":
		return ConfidenceLow, true
	default:
		return "", false
	}
}

// Tier names the lookup tier that produced a match result.
type Tier string

const (
	TierCache  Tier = "cache"
	TierBulk   Tier = "bulk"
	TierRemote Tier = "remote"
	TierNone   Tier = "none"
)

// Assessment is the scorer's verdict on a match result.
type Assessment struct {
	GuessedPhone   string         `json:"guessed_phone"`
	Confidence     Confidence     `json:"confidence"`
	TotalWithPhone int            `json:"total_with_phone"`
	UniquePhones   int            `json:"unique_phones"`
	PhoneCounts    map[string]int `json:"phone_counts,omitempty"`
}

// GuessedOrder is one reconciled incomplete order handed to report writers.
type GuessedOrder struct {
	OrderID             int64      `json:"order_id"`
	OrderDate           string     `json:"order_date"`
	UserName            string     `json:"user_name"`
	ProviderToken       string     `json:"provider_token"`
	TransactionID       string     `json:"transaction_id"`
	GuessedPhone        string     `json:"guessed_phone"`
	Confidence          Confidence `json:"match_confidence"`
	MatchingOrdersCount int        `json:"matching_orders_count"`
	UniquePhoneCount    int        `json:"unique_phone_count"`
	Tier                Tier       `json:"tier"`
	Billing             Contact    `json:"billing"`
	Shipping            Contact    `json:"shipping"`
	Total               Amount     `json:"total"`
	Status              string     `json:"status"`
}

// City returns the billing city, falling back to the shipping city.
func (g GuessedOrder) City() string {
	return cityOf(g.Billing, g.Shipping)
}
