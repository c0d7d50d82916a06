// Package relay turns one parsed inbound message into one Gmail API send
// using the sender's delegated credential.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pysugar/gmail-relay/internal/gmail"
	"github.com/pysugar/gmail-relay/internal/util"
)

// ErrNoRecipients rejects a submission whose To and Cc fields yield no
// addresses. Nothing is dispatched.
var ErrNoRecipients = errors.New("no valid recipients found (check To/Cc fields)")

const defaultSubject = "(No Subject)"

// TokenSource resolves a currently valid access token for an account.
type TokenSource interface {
	ResolveAccessToken(ctx context.Context, email string) (string, error)
}

// Dispatcher submits an encoded message to the mail provider.
type Dispatcher interface {
	Send(ctx context.Context, accessToken, raw string) (*gmail.DispatchResult, error)
}

// Pipeline is the relay path: validate, transform, resolve credential,
// dispatch.
type Pipeline struct {
	tokens     TokenSource
	dispatcher Dispatcher
}

// NewPipeline wires the relay path to its collaborators.
func NewPipeline(tokens TokenSource, dispatcher Dispatcher) *Pipeline {
	return &Pipeline{tokens: tokens, dispatcher: dispatcher}
}

// Relay processes one submission for an already-authenticated sender. The
// caller validated the account via HasCredential at session-auth time; this
// is not re-checked here. Recipients are submitted as one joined API call;
// there is no per-recipient retry or partial delivery.
func (p *Pipeline) Relay(ctx context.Context, sender string, parsed *ParsedMessage) (*gmail.DispatchResult, error) {
	start := time.Now()

	recipients := make([]string, 0, len(parsed.To)+len(parsed.Cc))
	recipients = append(recipients, parsed.To...)
	recipients = append(recipients, parsed.Cc...)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	subject := parsed.Subject
	if subject == "" {
		subject = defaultSubject
	}

	msg := &Message{
		From:    sender,
		To:      recipients,
		Subject: subject,
		Text:    parsed.Text,
		HTML:    parsed.HTML,
	}

	accessToken, err := p.tokens.ResolveAccessToken(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("resolve access token for %s: %w", sender, err)
	}

	result, err := p.dispatcher.Send(ctx, accessToken, EncodeRaw(msg))
	if err != nil {
		log.Printf("❌ Relay failed for %s after %s: %v",
			sender, time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}

	log.Printf("✅ Relayed %q from %s to %d recipient(s) in %s (id %s)",
		util.TruncateLog(subject, 80), sender, len(recipients),
		time.Since(start).Round(time.Millisecond), result.ID)
	return result, nil
}
