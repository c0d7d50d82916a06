package relay

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// buildMIME constructs the raw RFC 2822 message: a single base64-encoded
// text/plain body, or multipart/alternative with text and HTML parts when an
// HTML body is present. The boundary is unique per message and used for the
// part separators and the closing marker alike.
func buildMIME(msg *Message) string {
	lines := []string{
		"From: " + msg.From,
		"To: " + strings.Join(msg.To, ", "),
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		fmt.Sprintf("Message-ID: <%s@gmail-relay.local>", uuid.NewString()),
	}

	if msg.HTML == "" {
		lines = append(lines,
			"Content-Type: text/plain; charset=UTF-8",
			"Content-Transfer-Encoding: base64",
			"",
			base64.StdEncoding.EncodeToString([]byte(msg.Text)),
		)
		return strings.Join(lines, "\r\n")
	}

	boundary := "relay_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	lines = append(lines,
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
		"",
		"--"+boundary,
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString([]byte(msg.Text)),
		"",
		"--"+boundary,
		"Content-Type: text/html; charset=UTF-8",
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString([]byte(msg.HTML)),
		"",
		"--"+boundary+"--",
	)
	return strings.Join(lines, "\r\n")
}

// EncodeRaw produces the Gmail wire form of a message: URL-safe base64 with
// padding stripped.
func EncodeRaw(msg *Message) string {
	return base64.RawURLEncoding.EncodeToString([]byte(buildMIME(msg)))
}
