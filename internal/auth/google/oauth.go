package google

import (
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// GmailSendScope is the only scope the relay ever requests: send-only
// delegated access, no mailbox read.
const GmailSendScope = "https://www.googleapis.com/auth/gmail.send"

// RevokeURL is Google's OAuth token revocation endpoint.
const RevokeURL = "https://oauth2.googleapis.com/revoke"

// NewOAuthConfig builds the oauth2 config shared by the setup exchange and
// token refreshes.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{GmailSendScope},
		Endpoint:     googleoauth.Endpoint,
	}
}
