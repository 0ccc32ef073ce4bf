package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidDuration = errors.New("invalid duration")

// ParseDurationField parses a Go duration string found at path. Empty means
// zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w %q", path, ErrInvalidDuration, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %w %q (negative)", path, ErrInvalidDuration, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
