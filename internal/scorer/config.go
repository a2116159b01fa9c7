// Package scorer turns the phones found for a name into a guessed phone and a
// confidence label.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Config holds the confidence thresholds.
type Config struct {
	// HighMinRecords is the number of agreeing records needed for high
	// confidence when only one phone was seen.
	HighMinRecords int `yaml:"high_min_records" mapstructure:"high_min_records"`
	// MajorityShare is the share of records the most common phone needs for
	// medium confidence when several phones were seen.
	MajorityShare float64 `yaml:"majority_share" mapstructure:"majority_share"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		HighMinRecords: 2,
		MajorityShare:  0.7,
	}
}

// ValidateConfig checks that a Config is usable.
func ValidateConfig(c Config) error {
	var errs []string

	if c.HighMinRecords < 1 {
		errs = append(errs, "high_min_records must be >= 1")
	}
	if c.MajorityShare <= 0 || c.MajorityShare > 1 {
		errs = append(errs, fmt.Sprintf("majority_share must be in (0, 1], got %.2f", c.MajorityShare))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
