// Package token caches per-account Gmail credentials and coordinates access
// token refreshes so that at most one refresh per account is ever in flight.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/pysugar/gmail-relay/internal/auth/google"
	"github.com/pysugar/gmail-relay/internal/db"
	"github.com/pysugar/gmail-relay/internal/db/models"
)

// freshnessBuffer is how long before expiry a cached access token stops
// being served and a refresh is forced instead.
const freshnessBuffer = 5 * time.Minute

var (
	// ErrNotAuthorized means no credential exists for the account. The user
	// has to run the setup flow first.
	ErrNotAuthorized = errors.New("account not authorized")

	// ErrRefreshFailed wraps any failure to obtain a fresh access token.
	// The manager never retries on its own; retry policy belongs to callers.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrReauthRequired marks refresh failures that will not go away on
	// retry (grant revoked or invalid). The account must be re-authorized
	// through the setup flow.
	ErrReauthRequired = errors.New("re-authorization required")
)

// refreshFunc exchanges a refresh token for a fresh oauth2 token.
type refreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// cachedCredential is the in-memory copy of a stored credential. The store
// stays authoritative; the cache entry is rebuilt from it on any miss.
type cachedCredential struct {
	RefreshToken string
	AccessToken  string
	Expiry       time.Time
}

func (c *cachedCredential) fresh(now time.Time) bool {
	return c.AccessToken != "" && c.Expiry.After(now.Add(freshnessBuffer))
}

// Manager is the process-wide credential cache plus refresh coordinator.
type Manager struct {
	store   *db.Store
	refresh refreshFunc

	httpc     *http.Client
	revokeURL string

	mu    sync.RWMutex
	cache map[string]*cachedCredential

	group singleflight.Group
}

// NewManager creates a manager that refreshes tokens through the given
// oauth2 config.
func NewManager(store *db.Store, cfg *oauth2.Config) *Manager {
	return &Manager{
		store: store,
		refresh: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
			return src.Token()
		},
		httpc:     http.DefaultClient,
		revokeURL: google.RevokeURL,
		cache:     make(map[string]*cachedCredential),
	}
}

// ResolveAccessToken returns a currently valid access token for the account,
// refreshing it only when the cached one is missing or expires within the
// freshness buffer. Concurrent callers needing a refresh for the same
// account share a single provider call and observe the same token or the
// same error.
func (m *Manager) ResolveAccessToken(ctx context.Context, email string) (string, error) {
	email = db.Normalize(email)

	cred, err := m.lookup(email)
	if err != nil {
		return "", err
	}

	if cred.fresh(time.Now()) {
		return cred.AccessToken, nil
	}

	// The singleflight entry clears when the refresh settles, success or
	// failure, so later callers can retry.
	v, err, _ := m.group.Do(email, func() (interface{}, error) {
		// A refresh that settled between our staleness check and here
		// already renewed the cache entry; don't refresh twice.
		if cur, err := m.lookup(email); err == nil && cur.fresh(time.Now()) {
			return cur.AccessToken, nil
		}
		return m.refreshAccessToken(ctx, email, cred.RefreshToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// HasCredential reports whether the account has stored credentials. This is
// the authentication gate for the SMTP layer; it never triggers a refresh or
// any network call.
func (m *Manager) HasCredential(email string) bool {
	email = db.Normalize(email)

	m.mu.RLock()
	_, ok := m.cache[email]
	m.mu.RUnlock()
	if ok {
		return true
	}

	_, err := m.store.Get(email)
	return err == nil
}

// Prime inserts freshly issued credentials into the cache, typically right
// after the setup exchange stored them.
func (m *Manager) Prime(cred *models.Credential) {
	entry := &cachedCredential{
		RefreshToken: cred.RefreshToken,
		AccessToken:  cred.AccessToken,
	}
	if cred.Expiry != nil {
		entry.Expiry = *cred.Expiry
	}

	m.mu.Lock()
	m.cache[db.Normalize(cred.Email)] = entry
	m.mu.Unlock()
}

// Revoke best-effort revokes the current access token at the provider, then
// unconditionally deletes the stored credential and evicts the cache entry.
// Provider failures never block the local cleanup.
func (m *Manager) Revoke(ctx context.Context, email string) error {
	email = db.Normalize(email)

	cred, err := m.lookup(email)
	if errors.Is(err, ErrNotAuthorized) {
		log.Printf("⚠️ Revocation requested for unknown account %s", email)
		return nil
	}
	if err != nil {
		return err
	}

	if cred.AccessToken != "" {
		if err := m.revokeRemote(ctx, cred.AccessToken); err != nil {
			log.Printf("⚠️ Provider revocation failed for %s: %v", email, err)
		}
	}

	if err := m.store.Delete(email); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.cache, email)
	m.mu.Unlock()

	log.Printf("✅ Revoked access for %s", email)
	return nil
}

// lookup returns the cached credential, falling back to the store on a miss
// and populating the cache from it.
func (m *Manager) lookup(email string) (*cachedCredential, error) {
	m.mu.RLock()
	cred, ok := m.cache[email]
	m.mu.RUnlock()
	if ok {
		return cred, nil
	}

	stored, err := m.store.Get(email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, email)
	}
	if err != nil {
		return nil, err
	}

	cred = &cachedCredential{
		RefreshToken: stored.RefreshToken,
		AccessToken:  stored.AccessToken,
	}
	if stored.Expiry != nil {
		cred.Expiry = *stored.Expiry
	}

	m.mu.Lock()
	m.cache[email] = cred
	m.mu.Unlock()

	log.Printf("📦 Loaded credentials for %s into cache", email)
	return cred, nil
}

// refreshAccessToken performs one provider refresh, persists the result, and
// merges it into the cache. The stored refresh token is never replaced here;
// rotating it requires re-running the setup flow.
func (m *Manager) refreshAccessToken(ctx context.Context, email, refreshToken string) (string, error) {
	log.Printf("🔄 Refreshing access token for %s", email)

	tok, err := m.refresh(ctx, refreshToken)
	if err != nil {
		if isPermanentRefreshError(err) {
			log.Printf("❌ Refresh rejected for %s, re-authorization required: %v", email, err)
			return "", fmt.Errorf("%w: %w: %v", ErrRefreshFailed, ErrReauthRequired, err)
		}
		log.Printf("⏳ Transient refresh failure for %s: %v", email, err)
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: provider returned no access token", ErrRefreshFailed)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	if err := m.store.UpdateAccessToken(email, tok.AccessToken, expiry); err != nil {
		return "", fmt.Errorf("%w: persist refreshed token: %v", ErrRefreshFailed, err)
	}

	m.mu.Lock()
	keep := refreshToken
	if cur, ok := m.cache[email]; ok {
		keep = cur.RefreshToken
	}
	m.cache[email] = &cachedCredential{
		RefreshToken: keep,
		AccessToken:  tok.AccessToken,
		Expiry:       expiry,
	}
	m.mu.Unlock()

	log.Printf("✅ Refreshed token for %s (%s, expires %s)",
		email, maskToken(tok.AccessToken), expiry.Format(time.RFC3339))
	return tok.AccessToken, nil
}

func (m *Manager) revokeRemote(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke endpoint returned %s", resp.Status)
	}
	return nil
}

func maskToken(t string) string {
	if len(t) < 20 {
		return t
	}
	return "..." + t[len(t)-12:]
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
