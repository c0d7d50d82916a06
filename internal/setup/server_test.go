package setup

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/gmail-relay/internal/auth/flow"
	"github.com/pysugar/gmail-relay/internal/auth/token"
	"github.com/pysugar/gmail-relay/internal/db"
	"github.com/pysugar/gmail-relay/internal/db/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Credential{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store := db.NewStore(gdb)

	cfg := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.example.com/auth",
			TokenURL: "https://accounts.example.com/token",
		},
	}
	tokens := token.NewManager(store, cfg)
	return NewServer(":0", "localhost:2525", flow.New(cfg, store, tokens))
}

func TestIndexRendersForm(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `action="/authorize"`) {
		t.Fatal("index page must render the authorize form")
	}
}

func TestAuthorizeSetsCookieAndRedirects(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?email=a@x.com", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("redirect must carry a state parameter")
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected oauth_state cookie")
	}
	if cookie.Value != state {
		t.Fatal("cookie state must match redirect state")
	}
	if !cookie.HttpOnly {
		t.Fatal("state cookie must be http-only")
	}
}

func TestAuthorizeRejectsBadEmail(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/authorize", "/authorize?email=not-an-address"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
			t.Fatalf("%s: expected redirect to /, got %d %s", target, rec.Code, rec.Header().Get("Location"))
		}
	}
}

func TestCallbackProviderError(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?error=access_denied", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on provider error, got %d", rec.Code)
	}
}

func TestCallbackMissingCookieRejected(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?code=c&state=s", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without state cookie, got %d", rec.Code)
	}
}

func TestCallbackCookieMismatchRejected(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth2callback?code=c&state=s", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "different"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on cookie mismatch, got %d", rec.Code)
	}
}

func TestCallbackUnknownStateRejected(t *testing.T) {
	s := newTestServer(t)

	// Cookie and query agree, but the server never issued this state.
	req := httptest.NewRequest(http.MethodGet, "/oauth2callback?code=c&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "forged"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on unknown state, got %d", rec.Code)
	}
}

func TestCallbackHappyPathRendersConfirmation(t *testing.T) {
	s := newTestServer(t)

	// Begin the flow to get a real state and cookie.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?email=z@z.com", nil))
	loc, _ := url.Parse(rec.Header().Get("Location"))
	state := loc.Query().Get("state")

	req := httptest.NewRequest(http.MethodGet, "/oauth2callback?code=the-code&state="+state, nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "z@z.com") {
		t.Fatal("confirmation page must show the resolved account")
	}
	if !strings.Contains(body, `value="the-code"`) {
		t.Fatal("confirmation page must carry the authorization code")
	}
}

func TestCompleteAuthMissingFields(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/complete-auth", strings.NewReader("code=only"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", rec.Code)
	}
}
