package util

import "fmt"

// TruncateLog truncates long strings (subjects, bodies) for log output so
// one oversized message cannot flood the log.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
