package common

import (
	"fmt"
	"slices"
)

// ValidateOutputFormat checks format against the configured allow list. An
// empty list means no restriction. Matching is case sensitive.
func ValidateOutputFormat(format string, supported []string) error {
	if len(supported) == 0 || slices.Contains(supported, format) {
		return nil
	}

	return fmt.Errorf("unsupported output format '%s'. Supported formats: %v",
		format, supported)
}
