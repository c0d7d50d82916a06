// Package flow implements the one-time account authorization handshake:
// anti-forgery state issuance, state validation, and the code-for-tokens
// exchange that ends with a stored credential.
package flow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/pysugar/gmail-relay/internal/auth/token"
	"github.com/pysugar/gmail-relay/internal/db"
	"github.com/pysugar/gmail-relay/internal/db/models"
)

// StateTTL bounds how long an issued state token stays valid.
const StateTTL = 10 * time.Minute

// sweepEvery amortizes the expiry sweep over issuances; StartSweepLoop
// additionally bounds the table under low issuance volume.
const sweepEvery = 10

// ErrMissingRefreshToken means Google completed the exchange without a
// refresh token. This happens when a prior grant exists and consent was not
// re-forced; the user must revoke the relay's access at the provider and
// retry. Not a transient fault.
var ErrMissingRefreshToken = errors.New("no refresh token received")

type stateEntry struct {
	email    string
	issuedAt time.Time
}

// Flow owns the state-token table and performs the authorization exchange.
// It is stateless with respect to credentials; those live in the store.
type Flow struct {
	oauth  *oauth2.Config
	store  *db.Store
	tokens *token.Manager

	mu     sync.Mutex
	states map[string]stateEntry
	issued int

	now func() time.Time
}

// New creates an authorization flow bound to the given oauth2 config.
func New(oauthCfg *oauth2.Config, store *db.Store, tokens *token.Manager) *Flow {
	return &Flow{
		oauth:  oauthCfg,
		store:  store,
		tokens: tokens,
		states: make(map[string]stateEntry),
		now:    time.Now,
	}
}

// BeginAuthorization issues a fresh single-use state token bound to the
// account and returns the provider consent URL to redirect the browser to.
// ApprovalForce makes Google re-issue a refresh token even for accounts that
// granted access before.
func (f *Flow) BeginAuthorization(email string) (redirectURL, state string) {
	email = db.Normalize(email)
	state = newStateToken()

	f.mu.Lock()
	f.states[state] = stateEntry{email: email, issuedAt: f.now()}
	f.issued++
	if f.issued%sweepEvery == 0 {
		f.sweepLocked()
	}
	f.mu.Unlock()

	redirectURL = f.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("login_hint", email),
	)

	log.Printf("🔐 Authorization started for %s", email)
	return redirectURL, state
}

// ValidateState consumes a state token and returns the account it was bound
// to. Each token validates at most once; expired, swept, or never-issued
// tokens all come back not-ok and callers must treat that as a hard failure.
func (f *Flow) ValidateState(state string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.states[state]
	if !ok {
		return "", false
	}
	delete(f.states, state)

	if f.now().Sub(entry.issuedAt) > StateTTL {
		return "", false
	}
	return entry.email, true
}

// CompleteAuthorization exchanges the authorization code for tokens, stores
// the credential, and primes the token cache.
func (f *Flow) CompleteAuthorization(ctx context.Context, code, email string) (*models.Credential, error) {
	email = db.Normalize(email)
	log.Printf("🔄 Exchanging authorization code for %s", email)

	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange for %s: %w", email, err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: revoke the relay at https://myaccount.google.com/permissions and retry", ErrMissingRefreshToken)
	}

	cred := &models.Credential{Email: email, RefreshToken: tok.RefreshToken}
	if tok.AccessToken != "" {
		expiry := tok.Expiry
		if expiry.IsZero() {
			expiry = f.now().Add(time.Hour)
		}
		cred.AccessToken = tok.AccessToken
		cred.Expiry = &expiry
	}

	if err := f.store.Store(cred); err != nil {
		return nil, err
	}
	f.tokens.Prime(cred)

	log.Printf("✅ Authorization completed for %s", email)
	return cred, nil
}

// StartSweepLoop purges expired state tokens on a timer so the table stays
// bounded even when no new authorizations come in. Runs until ctx is done.
func (f *Flow) StartSweepLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				f.sweepLocked()
				f.mu.Unlock()
			}
		}
	}()
}

// sweepLocked drops expired state entries. Caller holds f.mu.
func (f *Flow) sweepLocked() {
	cutoff := f.now().Add(-StateTTL)
	for s, e := range f.states {
		if e.issuedAt.Before(cutoff) {
			delete(f.states, s)
		}
	}
}

func newStateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
