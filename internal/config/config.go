// Package config reads the process configuration from the environment, with
// an optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the full configuration surface of the relay.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPDomain   string
	TLSRequired  bool
	AuthOptional bool

	ClientID     string
	ClientSecret string
	RedirectURI  string

	DatabasePath string
	SetupAddr    string
}

// SMTPAddr is the listen address of the submission endpoint.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

// Load reads configuration from the environment. GMAIL_CLIENT_ID and
// GMAIL_CLIENT_SECRET are required; everything else has defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SMTPHost:     getEnv("SMTP_HOST", "0.0.0.0"),
		SMTPPort:     getEnvInt("SMTP_PORT", 2525),
		SMTPDomain:   getEnv("SMTP_DOMAIN", "gmail-relay.local"),
		TLSRequired:  getEnvBool("SMTP_TLS_REQUIRED", false),
		AuthOptional: getEnvBool("SMTP_AUTH_OPTIONAL", false),
		ClientID:     os.Getenv("GMAIL_CLIENT_ID"),
		ClientSecret: os.Getenv("GMAIL_CLIENT_SECRET"),
		RedirectURI:  getEnv("REDIRECT_URI", "http://localhost:3001/oauth2callback"),
		DatabasePath: getEnv("DATABASE_PATH", "./relay.db"),
		SetupAddr:    getEnv("SETUP_ADDR", ":3001"),
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET must be set")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
