// Package util provides small internal helpers shared across packages.
package util

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging credential prefixes: enough uniqueness for
// debugging without writing the full secret to the log.
func SafeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
