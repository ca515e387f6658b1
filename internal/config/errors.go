package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single folder config validation failure
type ValidationError struct {
	Key     string // e.g., "special[1].run"
	Message string // e.g., "missing required field"
}

// FormatError formats a validation error for display
func FormatError(err ValidationError) string {
	return fmt.Sprintf("config error: %s: %s", err.Key, err.Message)
}

// ValidationErrors collects every failure found in one document.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	lines := make([]string, 0, len(v))
	for _, e := range v {
		lines = append(lines, FormatError(e))
	}
	return strings.Join(lines, "\n")
}
