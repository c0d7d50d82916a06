// Package setup is the browser-facing authorization surface: a small chi
// server that walks an account owner through the Google consent flow and
// lands the resulting credential in the store.
package setup

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pysugar/gmail-relay/internal/auth/flow"
	"github.com/pysugar/gmail-relay/internal/gmail"
)

const stateCookie = "oauth_state"

// pageStyle is shared by every rendered page.
const pageStyle = `<style>
	:root { --primary: #4285f4; --bg: #f8fafc; --card: #ffffff; --text: #1e293b; }
	body { font-family: 'Segoe UI', system-ui, sans-serif; max-width: 600px; margin: 4rem auto; padding: 0 1rem; background: var(--bg); color: var(--text); line-height: 1.5; }
	.card { background: var(--card); padding: 2.5rem; border-radius: 1rem; box-shadow: 0 10px 25px -5px rgba(0,0,0,0.1); border: 1px solid #e2e8f0; }
	h1 { margin-top: 0; font-size: 1.875rem; font-weight: 700; color: #0f172a; }
	.field { margin-bottom: 1.5rem; }
	label { display: block; margin-bottom: 0.5rem; font-weight: 600; font-size: 0.875rem; }
	input { width: 100%; padding: 0.75rem; border: 1px solid #cbd5e1; border-radius: 0.5rem; font-size: 1rem; }
	button { background: var(--primary); color: white; border: none; padding: 0.75rem 1.5rem; border-radius: 0.5rem; font-weight: 600; cursor: pointer; width: 100%; }
	button:hover { opacity: 0.9; }
	.badge { display: inline-block; padding: 0.25rem 0.75rem; background: #e0e7ff; color: #4338ca; border-radius: 9999px; font-size: 0.75rem; font-weight: 700; margin-bottom: 1rem; }
	.info-box { background: #f1f5f9; padding: 1rem; border-radius: 0.5rem; border-left: 4px solid var(--primary); margin: 1.5rem 0; font-size: 0.9rem; }
	pre { background: #0f172a; color: #f8fafc; padding: 1rem; border-radius: 0.5rem; overflow-x: auto; font-size: 0.85rem; }
	a { color: var(--primary); text-decoration: none; font-weight: 500; }
</style>`

// Server hosts the setup routes.
type Server struct {
	flow     *flow.Flow
	smtpAddr string // shown on the success page
	srv      *http.Server
}

// NewServer builds the setup router on addr. smtpAddr is only used for the
// credentials-of-use box rendered after a successful authorization.
func NewServer(addr, smtpAddr string, f *flow.Flow) *Server {
	s := &Server{flow: f, smtpAddr: smtpAddr}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/authorize", s.handleAuthorize)
	r.Get("/oauth2callback", s.handleCallback)
	r.Post("/complete-auth", s.handleComplete)

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("🚀 Setup UI active at http://%s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Relay Setup</title>%s</head>
<body>
	<div class="card">
		<span class="badge">SMTP TO GMAIL RELAY</span>
		<h1>Account Authorization</h1>
		<p>Authorize your Gmail account to send mail through this relay.</p>
		<form action="/authorize" method="GET">
			<div class="field">
				<label>Gmail Address</label>
				<input type="email" name="email" placeholder="user@gmail.com" required autofocus>
			</div>
			<button type="submit">Begin Authorization</button>
		</form>
	</div>
</body></html>`, pageStyle)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" || !gmail.ValidAddress(email) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	redirectURL, state := s.flow.BeginAuthorization(email)

	// Double-submit: the cookie must match the state query parameter on the
	// callback, in addition to the server-side state table lookup.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(flow.StateTTL / time.Second),
	})
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if provErr := q.Get("error"); provErr != "" {
		log.Printf("❌ OAuth callback error: %s", provErr)
		http.Error(w, "Authorization failed: "+provErr, http.StatusBadRequest)
		return
	}

	state := q.Get("state")
	cookie, err := r.Cookie(stateCookie)
	if state == "" || err != nil || cookie.Value != state {
		log.Printf("❌ CSRF protection: state mismatch or missing cookie")
		s.renderRejection(w)
		return
	}

	email, ok := s.flow.ValidateState(state)
	if !ok {
		log.Printf("❌ CSRF protection: invalid state token")
		s.renderRejection(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Confirm Identity</title>%s</head>
<body>
	<div class="card">
		<h1>Confirm Email</h1>
		<p>Google has authorized access for <strong>%s</strong>. Finalize setup below.</p>
		<form action="/complete-auth" method="POST">
			<input type="hidden" name="code" value="%s">
			<input type="hidden" name="email" value="%s">
			<button type="submit">Finalize Connection</button>
		</form>
	</div>
</body></html>`, pageStyle, html.EscapeString(email), html.EscapeString(q.Get("code")), html.EscapeString(email))
}

func (s *Server) renderRejection(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	fmt.Fprint(w, `<h2>Security Error</h2><p>Invalid or missing state parameter. Authorization rejected.</p><a href="/">Try Again</a>`)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	code := r.PostFormValue("code")
	email := r.PostFormValue("email")
	if code == "" || email == "" {
		http.Error(w, "Invalid verification request", http.StatusBadRequest)
		return
	}

	cred, err := s.flow.CompleteAuthorization(r.Context(), code, email)
	if err != nil {
		log.Printf("❌ Authorization exchange failed for %s: %v", email, err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<h2>Setup Error</h2><p>%s</p><a href="/">Try Again</a>`, html.EscapeString(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Setup Complete</title>%s</head>
<body>
	<div class="card" style="text-align: center;">
		<h1>Setup Complete!</h1>
		<p><strong>%s</strong> is now ready to send mail.</p>
		<div class="info-box" style="text-align: left;">
			<strong>Your SMTP Credentials:</strong>
			<pre>Host/Port: %s
User: %s
Pass: (any value)</pre>
		</div>
		<p><a href="/">Authorize another account</a></p>
	</div>
</body></html>`, pageStyle, html.EscapeString(cred.Email), html.EscapeString(s.smtpAddr), html.EscapeString(cred.Email))
}
