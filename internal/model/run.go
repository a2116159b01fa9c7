package model

import "time"

// RunStatus represents the current state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Window is the order creation date range a run covers.
type Window struct {
	After  time.Time `json:"after"`
	Before time.Time `json:"before"`
}

// RunSummary holds the counters a run reports on completion.
type RunSummary struct {
	IncompleteOrders int    `json:"incomplete_orders"`
	UniqueNames      int    `json:"unique_names"`
	UnknownNames     int    `json:"unknown_names"`
	NamesMatched     int    `json:"names_matched"`
	CacheHits        int    `json:"cache_hits"`
	BulkHits         int    `json:"bulk_hits"`
	RemoteSearches   int    `json:"remote_searches"`
	SourceFailures   int    `json:"source_failures"`
	Guessed          int    `json:"guessed"`
	MissingToken     int    `json:"missing_token"`
	High             int    `json:"high"`
	Medium           int    `json:"medium"`
	Low              int    `json:"low"`
	Error            string `json:"error,omitempty"`
}

// Count tallies one emitted guess into the confidence counters.
func (s *RunSummary) Count(c Confidence) {
	s.Guessed++
	switch c {
	case ConfidenceHigh:
		s.High++
	case ConfidenceMedium:
		s.Medium++
	default:
		s.Low++
	}
}

// Run is a persisted record of a single reconciliation run.
type Run struct {
	ID        string      `json:"id"`
	Window    Window      `json:"window"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
