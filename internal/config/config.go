package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Server contains the HTTP listener and cookie settings.
type Server struct {
	Addr          string   `toml:"addr"`
	BaseURL       string   `toml:"base_url"`
	CookieDomains []string `toml:"cookie_domains"`
	SecureCookie  bool     `toml:"secure_cookie"`
}

// Database selects the credential store.
//
//	memory     in-process, lost on restart
//	fs         JSON file under Path
//	postgres   URL is the DSN
//	datastore  Cloud Datastore in ProjectID / Namespace
type Database struct {
	Driver    string `toml:"driver"`
	URL       string `toml:"url"`
	Path      string `toml:"path"`
	ProjectID string `toml:"project_id"`
	Namespace string `toml:"namespace"`
}

// Session contains cookie session and auth token settings.
type Session struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	JWTSecret      string `toml:"jwt_secret"`
	JWTIssuer      string `toml:"jwt_issuer"`
}

// Auth contains the password and account linking policies.
type Auth struct {
	MinPasswordLength    int    `toml:"min_password_length"`
	LinkPolicy           string `toml:"link_policy"`
	ResetTokenTTLMinutes int    `toml:"reset_token_ttl_minutes"`
}

// Mail contains the SMTP relay used for reset links. An empty Host logs
// links to the console instead.
type Mail struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Secure         bool   `toml:"secure"`
	User           string `toml:"user"`
	Pass           string `toml:"pass"`
	From           string `toml:"from"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Provider holds the OAuth client registration for one identity provider.
type Provider struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	CallbackURL  string `toml:"callback_url"`
}

// Enabled reports whether the provider is configured
func (p Provider) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type OAuth struct {
	Google Provider `toml:"google"`
	GitHub Provider `toml:"github"`
}

// GRPC enables the gRPC listener when Addr is set.
type GRPC struct {
	Addr string `toml:"addr"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for bookauthd.
type Config struct {
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Session  Session  `toml:"session"`
	Auth     Auth     `toml:"auth"`
	Mail     Mail     `toml:"mail"`
	OAuth    OAuth    `toml:"oauth"`
	GRPC     GRPC     `toml:"grpc"`
	Logging  Logging  `toml:"log"`
}

// Load applies defaults, then the TOML file at path (if it exists), then
// environment overrides, and validates the result. It reports whether the
// file was found.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	exists := false
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, false, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			exists = true
			decoder := toml.NewDecoder(file)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&cfg); err != nil {
				return nil, false, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, exists, nil
}

// Encode renders cfg as TOML, for `bookauthd config` style output
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Redacted returns a copy with secrets masked
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Session.JWTSecret = mask(c.Session.JWTSecret)
	c.Mail.Pass = mask(c.Mail.Pass)
	c.OAuth.Google.ClientSecret = mask(c.OAuth.Google.ClientSecret)
	c.OAuth.GitHub.ClientSecret = mask(c.OAuth.GitHub.ClientSecret)
	if c.Database.URL != "" {
		c.Database.URL = mask(c.Database.URL)
	}
	c.Server.CookieDomains = append([]string(nil), c.Server.CookieDomains...)
	return c
}
