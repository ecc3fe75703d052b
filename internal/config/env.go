package config

import (
	"fmt"
	"strconv"
	"strings"
)

// applyEnv overrides file values with the deployment environment. Secrets
// are usually only supplied this way.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("BOOKAUTH_ADDR", &c.Server.Addr)
	str("BOOKAUTH_BASE_URL", &c.Server.BaseURL)
	str("BOOKAUTH_DB_DRIVER", &c.Database.Driver)
	str("DATABASE_URL", &c.Database.URL)
	str("DATASTORE_PROJECT_ID", &c.Database.ProjectID)
	str("BOOKAUTH_JWT_SECRET_KEY", &c.Session.JWTSecret)
	str("SMTP_HOST", &c.Mail.Host)
	str("SMTP_USER", &c.Mail.User)
	str("SMTP_PASS", &c.Mail.Pass)
	str("SMTP_FROM", &c.Mail.From)
	str("OAUTH2_GOOGLE_CLIENT_ID", &c.OAuth.Google.ClientID)
	str("OAUTH2_GOOGLE_CLIENT_SECRET", &c.OAuth.Google.ClientSecret)
	str("OAUTH2_GOOGLE_CALLBACK_URL", &c.OAuth.Google.CallbackURL)
	str("OAUTH2_GITHUB_CLIENT_ID", &c.OAuth.GitHub.ClientID)
	str("OAUTH2_GITHUB_CLIENT_SECRET", &c.OAuth.GitHub.ClientSecret)
	str("OAUTH2_GITHUB_CALLBACK_URL", &c.OAuth.GitHub.CallbackURL)
	str("BOOKAUTH_LOG_LEVEL", &c.Logging.Level)

	// DATABASE_URL alone is enough to select postgres
	if getenv("DATABASE_URL") != "" && getenv("BOOKAUTH_DB_DRIVER") == "" {
		c.Database.Driver = "postgres"
	}

	if v := strings.TrimSpace(getenv("SMTP_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.Mail.Port = port
	}
	if v := strings.TrimSpace(getenv("SMTP_SECURE")); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SMTP_SECURE: %w", err)
		}
		c.Mail.Secure = secure
	}
	return nil
}
