// Package utils holds the small string/slice/validation helpers shared by
// the ingress handlers and services.
package utils

import (
	"fmt"
	"sort"
	"strings"
)

// IsEmpty reports whether s is empty or whitespace-only.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Coalesce returns the first non-empty string.
func Coalesce(strs ...string) string {
	for _, s := range strs {
		if !IsEmpty(s) {
			return s
		}
	}
	return ""
}

// Truncate shortens s to maxLen runes-worth of bytes, appending "..." when
// it cut anything. Used to bound free-text fields (invite messages, audit
// reasons) before they reach logs or the ledger.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// SplitTrim splits s by delimiter and trims each part, dropping empties.
func SplitTrim(s, delimiter string) []string {
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Contains reports whether slice holds target.
func Contains(slice []string, target string) bool {
	for _, item := range slice {
		if item == target {
			return true
		}
	}
	return false
}

// Unique removes duplicates while preserving first-seen order.
func Unique(slice []string) []string {
	seen := make(map[string]bool, len(slice))
	result := make([]string, 0, len(slice))
	for _, item := range slice {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}

// ValidateRequired rejects the request when any named field is empty. The
// missing-field list is sorted so the error message is deterministic.
func ValidateRequired(fields map[string]string) error {
	var missing []string
	for field, value := range fields {
		if IsEmpty(value) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("required fields missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateOneOf rejects the request unless at least one named field is set.
func ValidateOneOf(fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for field, value := range fields {
		if !IsEmpty(value) {
			return nil
		}
		names = append(names, field)
	}
	sort.Strings(names)
	return fmt.Errorf("at least one of these fields must be set: %s", strings.Join(names, ", "))
}
