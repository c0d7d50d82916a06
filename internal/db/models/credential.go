package models

import "time"

// Credential stores the delegated Gmail access for one account. The email is
// the primary key and always lowercased before it reaches the database.
//
// AccessToken and Expiry travel together: both set after the first exchange
// or refresh, both empty before it. RefreshToken never changes after the
// initial authorization; replacing it requires re-running the setup flow.
type Credential struct {
	Email        string `gorm:"primaryKey"`
	RefreshToken string `gorm:"not null"`
	AccessToken  string
	Expiry       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
