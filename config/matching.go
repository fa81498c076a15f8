package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MatchConfig holds the similarity-matching decision policy. All fields are
// required configuration; there are no built-in defaults for the thresholds.
type MatchConfig struct {
	LowThreshold  float64
	HighThreshold float64
	ReviewTopN    int
}

// LoadMatchConfig reads and validates the matching policy from env.
// Invalid or missing values are a startup configuration error.
func LoadMatchConfig() (MatchConfig, error) {
	low, err := floatFromEnvRequired("MATCH_LOW_THRESHOLD")
	if err != nil {
		return MatchConfig{}, err
	}
	high, err := floatFromEnvRequired("MATCH_HIGH_THRESHOLD")
	if err != nil {
		return MatchConfig{}, err
	}
	topN := intFromEnv("MATCH_REVIEW_TOP_N", 0)

	cfg := MatchConfig{
		LowThreshold:  low,
		HighThreshold: high,
		ReviewTopN:    topN,
	}
	if err := cfg.Validate(); err != nil {
		return MatchConfig{}, err
	}
	return cfg, nil
}

func (c MatchConfig) Validate() error {
	if c.LowThreshold < 0 || c.LowThreshold > 1 {
		return fmt.Errorf("MATCH_LOW_THRESHOLD must be in [0,1], got %v", c.LowThreshold)
	}
	if c.HighThreshold < 0 || c.HighThreshold > 1 {
		return fmt.Errorf("MATCH_HIGH_THRESHOLD must be in [0,1], got %v", c.HighThreshold)
	}
	if c.LowThreshold > c.HighThreshold {
		return fmt.Errorf("MATCH_LOW_THRESHOLD (%v) must not exceed MATCH_HIGH_THRESHOLD (%v)", c.LowThreshold, c.HighThreshold)
	}
	if c.ReviewTopN < 1 {
		return errors.New("MATCH_REVIEW_TOP_N must be a positive integer")
	}
	return nil
}

func floatFromEnvRequired(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}
