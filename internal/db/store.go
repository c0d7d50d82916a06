package db

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pysugar/gmail-relay/internal/db/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no credential row exists for an account.
var ErrNotFound = errors.New("credentials not found")

// Store wraps the gorm handle with credential operations. Lookups are
// case-insensitive: emails are normalized before they touch the database, so
// callers do not have to.
type Store struct {
	db *gorm.DB
}

// NewStore creates a credential store on top of an initialized database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Normalize lowercases an account email for storage and lookup.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store upserts a credential by email and refreshes its update timestamp.
func (s *Store) Store(cred *models.Credential) error {
	cred.Email = Normalize(cred.Email)
	if err := s.db.Save(cred).Error; err != nil {
		return fmt.Errorf("store credentials for %s: %w", cred.Email, err)
	}
	log.Printf("✅ Stored credentials for %s", cred.Email)
	return nil
}

// Get loads the credential for an account. Returns ErrNotFound on miss.
func (s *Store) Get(email string) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.First(&cred, "email = ?", Normalize(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials for %s: %w", email, err)
	}
	return &cred, nil
}

// UpdateAccessToken replaces the access token and expiry for an existing
// account. The refresh token is left untouched. Returns ErrNotFound when the
// account was never authorized.
func (s *Store) UpdateAccessToken(email, accessToken string, expiry time.Time) error {
	res := s.db.Model(&models.Credential{}).
		Where("email = ?", Normalize(email)).
		Updates(map[string]interface{}{
			"access_token": accessToken,
			"expiry":       expiry,
		})
	if res.Error != nil {
		return fmt.Errorf("update access token for %s: %w", email, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every stored credential. No pagination; the store holds tens
// to hundreds of accounts at most.
func (s *Store) List() ([]models.Credential, error) {
	var creds []models.Credential
	if err := s.db.Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the credential for an account. Deleting an absent account
// is not an error.
func (s *Store) Delete(email string) error {
	email = Normalize(email)
	if err := s.db.Delete(&models.Credential{}, "email = ?", email).Error; err != nil {
		return fmt.Errorf("delete credentials for %s: %w", email, err)
	}
	log.Printf("⚠️ Deleted credentials for %s", email)
	return nil
}
