package scorer

import (
	"github.com/sells-group/ordermatch/internal/model"
)

// Score assesses a match result. Records without a phone are ignored. The
// guessed phone is the most frequent one; equal counts resolve to the
// lexicographically smallest phone.
func Score(cfg Config, result model.MatchResult) model.Assessment {
	counts := make(map[string]int)
	total := 0
	for _, r := range result {
		if !r.HasPhone() {
			continue
		}
		counts[r.Phone()]++
		total++
	}

	a := model.Assessment{
		Confidence:     model.ConfidenceLow,
		TotalWithPhone: total,
		UniquePhones:   len(counts),
		PhoneCounts:    counts,
	}
	if total == 0 {
		return a
	}

	best, bestCount := "", 0
	for _, phone := range result.Phones() {
		n := counts[phone]
		if n > bestCount || (n == bestCount && phone < best) {
			best, bestCount = phone, n
		}
	}
	a.GuessedPhone = best

	switch {
	case len(counts) == 1 && total >= cfg.HighMinRecords:
		a.Confidence = model.ConfidenceHigh
	case len(counts) == 1:
		a.Confidence = model.ConfidenceMedium
	case float64(bestCount)/float64(total) >= cfg.MajorityShare:
		a.Confidence = model.ConfidenceMedium
	default:
		a.Confidence = model.ConfidenceLow
	}
	return a
}
