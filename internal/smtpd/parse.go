package smtpd

import (
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-message/mail"

	"github.com/pysugar/gmail-relay/internal/relay"
)

// ParseMessage reads one buffered RFC 2822 submission into the pipeline's
// parsed form. Address lists keep their original order and are not
// deduplicated. The first text/plain and first text/html inline parts win;
// attachments are ignored.
func ParseMessage(r io.Reader) (*relay.ParsedMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	parsed := &relay.ParsedMessage{}
	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	}
	parsed.To = headerAddresses(&mr.Header, "To")
	parsed.Cc = headerAddresses(&mr.Header, "Cc")

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read message part: %w", err)
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, err := inline.ContentType()
		if err != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}

		switch ctype {
		case "text/plain":
			if parsed.Text == "" {
				parsed.Text = string(body)
			}
		case "text/html":
			if parsed.HTML == "" {
				parsed.HTML = string(body)
			}
		}
	}

	return parsed, nil
}

// headerAddresses extracts the addresses of one header field, skipping
// entries without a usable address. An unparseable field yields none.
func headerAddresses(h *mail.Header, field string) []string {
	addrs, err := h.AddressList(field)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Address != "" {
			out = append(out, a.Address)
		}
	}
	return out
}
