// Package smtpd is the inbound submission endpoint: a thin go-smtp backend
// that authenticates accounts against stored credentials and hands each
// buffered message to the relay pipeline.
package smtpd

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/pysugar/gmail-relay/internal/auth/token"
	"github.com/pysugar/gmail-relay/internal/db"
	"github.com/pysugar/gmail-relay/internal/gmail"
	"github.com/pysugar/gmail-relay/internal/logging"
	"github.com/pysugar/gmail-relay/internal/relay"
)

// Server wraps go-smtp with relay-specific session handling.
type Server struct {
	srv          *smtp.Server
	tokens       *token.Manager
	pipeline     *relay.Pipeline
	authOptional bool
}

// NewServer configures the submission listener. With tlsRequired unset,
// plaintext AUTH is allowed (the relay typically runs on a trusted LAN).
// With authOptional set, unauthenticated sessions fall back to the envelope
// sender for credential lookup.
func NewServer(addr, domain string, tlsRequired, authOptional bool, tokens *token.Manager, pipeline *relay.Pipeline) *Server {
	s := &Server{tokens: tokens, pipeline: pipeline, authOptional: authOptional}

	srv := smtp.NewServer(s)
	srv.Addr = addr
	srv.Domain = domain
	srv.AllowInsecureAuth = !tlsRequired
	srv.ReadTimeout = time.Minute
	srv.WriteTimeout = time.Minute
	srv.MaxMessageBytes = 25 * 1024 * 1024 // Gmail's own message size cap
	srv.MaxRecipients = 100

	s.srv = srv
	return s
}

// ListenAndServe blocks serving SMTP until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("🚀 SMTP relay listening on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and waits for active sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// NewSession implements smtp.Backend.
func (s *Server) NewSession(c *smtp.Conn) (smtp.Session, error) {
	id := logging.GenerateRequestID()
	log.Printf("📨 [%s] SMTP connection from %s", id, c.Conn().RemoteAddr())
	return &session{server: s, id: id}, nil
}

var (
	errInvalidAddress = &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Invalid email address format",
	}
	errNotAuthorized = &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Account not authorized, visit the setup UI",
	}
	errNoSender = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 7, 0},
		Message:      "No sender account for this session",
	}
)

type session struct {
	server *Server
	id     string
	user   string // authenticated account, empty until AUTH succeeds
	from   string // envelope sender, used in auth-optional mode
}

// AuthMechanisms implements smtp.AuthSession.
func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth implements smtp.AuthSession. Any password is accepted: possession of
// stored credentials for the account is what authorizes relaying.
func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		email := db.Normalize(username)
		if !gmail.ValidAddress(email) {
			log.Printf("⚠️ [%s] Auth failed, invalid address format: %s", s.id, email)
			return errInvalidAddress
		}
		if !s.server.tokens.HasCredential(email) {
			log.Printf("⚠️ [%s] Auth failed, account not authorized: %s", s.id, email)
			return errNotAuthorized
		}
		s.user = email
		log.Printf("✅ [%s] Auth success: %s", s.id, email)
		return nil
	}), nil
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	if s.user == "" && !s.server.authOptional {
		return smtp.ErrAuthRequired
	}
	s.from = db.Normalize(from)
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	return nil
}

// Data buffers and parses the message, then relays it. Errors come back as
// SMTP replies so the submitting client sees a definitive rejection.
func (s *session) Data(r io.Reader) error {
	sender := s.user
	if sender == "" {
		sender = s.from
	}
	if sender == "" {
		return errNoSender
	}

	parsed, err := ParseMessage(r)
	if err != nil {
		log.Printf("❌ [%s] Message parse failed: %v", s.id, err)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message: " + err.Error(),
		}
	}

	if _, err := s.server.pipeline.Relay(context.Background(), sender, parsed); err != nil {
		return relayError(err)
	}
	return nil
}

// relayError maps pipeline failures onto SMTP replies. Credential refresh
// failures are reported as transient so well-behaved clients retry later.
func relayError(err error) *smtp.SMTPError {
	switch {
	case errors.Is(err, relay.ErrNoRecipients):
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      err.Error(),
		}
	case errors.Is(err, token.ErrNotAuthorized):
		return &smtp.SMTPError{
			Code:         530,
			EnhancedCode: smtp.EnhancedCode{5, 7, 0},
			Message:      "Account not authorized, visit the setup UI",
		}
	case errors.Is(err, token.ErrReauthRequired):
		return &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Credentials revoked, re-run the setup flow",
		}
	case errors.Is(err, token.ErrRefreshFailed):
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 7, 0},
			Message:      "Temporary credential failure, try again later",
		}
	default:
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 0, 0},
			Message:      "Relay failed: " + err.Error(),
		}
	}
}

func (s *session) Reset() {
	s.from = ""
}

func (s *session) Logout() error {
	return nil
}
