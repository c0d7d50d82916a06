// Package gmail sends raw messages through the Gmail API on behalf of
// whichever account the supplied access token belongs to.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// ErrUnexpectedResponse marks a nominally successful send whose response is
// missing the message or thread id.
var ErrUnexpectedResponse = errors.New("unexpected Gmail API response")

// DispatchResult is what Gmail reports back for an accepted message.
type DispatchResult struct {
	ID       string
	ThreadID string
	Labels   []string
}

// Client is the outbound dispatch boundary.
type Client struct {
	opts []option.ClientOption
}

// NewClient creates a dispatch client. Extra options are mainly for tests
// (endpoint override).
func NewClient(opts ...option.ClientOption) *Client {
	return &Client{opts: opts}
}

// Send submits a base64url-encoded RFC 2822 message as the "me" user of the
// access token.
func (c *Client) Send(ctx context.Context, accessToken, raw string) (*DispatchResult, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	opts := append([]option.ClientOption{option.WithTokenSource(src)}, c.opts...)

	srv, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Gmail service: %w", err)
	}

	resp, err := srv.Users.Messages.Send("me", &gmailapi.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("Gmail send: %w", err)
	}
	if resp.Id == "" || resp.ThreadId == "" {
		return nil, fmt.Errorf("%w: missing message or thread id", ErrUnexpectedResponse)
	}

	log.Printf("✅ Gmail accepted message %s (thread %s)", resp.Id, resp.ThreadId)
	return &DispatchResult{ID: resp.Id, ThreadID: resp.ThreadId, Labels: resp.LabelIds}, nil
}

var emailRegexp = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidAddress reports whether s looks like a mail address. Intentionally
// loose; Gmail does the real validation.
func ValidAddress(s string) bool {
	return emailRegexp.MatchString(s)
}
