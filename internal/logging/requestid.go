// Package logging provides correlation ids for per-session log lines.
package logging

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateRequestID creates an 8-character hex id used to tie together the
// log lines of one SMTP session.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}
