package dedupe

import (
	"fmt"
	"time"
)

// Config holds the tunables of the duplicate gate.
type Config struct {
	// Threshold is the minimum token Jaccard score (0.0-1.0) for a candidate
	// to be reported. A request may override it.
	Threshold float64

	// MinTitleLength is the shortest title, in characters, that is checked
	// at all. Shorter titles return an unchecked result immediately.
	MinTitleLength int

	// Debounce is the quiet period a key needs before its latest check runs.
	Debounce time.Duration

	// MaxCandidates bounds the candidate search.
	MaxCandidates int
}

func DefaultConfig() Config {
	return Config{
		Threshold:      0.7,
		MinTitleLength: 10,
		Debounce:       500 * time.Millisecond,
		MaxCandidates:  5,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Threshold < 0.0 || c.Threshold > 1.0 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0 (got %.2f)", c.Threshold)
	}
	if c.MinTitleLength < 0 {
		return fmt.Errorf("min_title_length cannot be negative (got %d)", c.MinTitleLength)
	}
	if c.MinTitleLength > 500 {
		return fmt.Errorf("min_title_length too large (got %d, max 500)", c.MinTitleLength)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative (got %v)", c.Debounce)
	}
	if c.Debounce > 10*time.Second {
		return fmt.Errorf("debounce too large (got %v, max 10s)", c.Debounce)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates > 100 {
		return fmt.Errorf("max_candidates too large (got %d, max 100)", c.MaxCandidates)
	}
	return nil
}
