package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/panyam/bookauth"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateMail(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "memory":
	case "fs":
		if c.Database.Path == "" {
			return errors.New("database.path is required for the fs driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver. Set DATABASE_URL")
		}
	case "datastore":
		if c.Database.ProjectID == "" {
			return errors.New("database.project_id is required for the datastore driver")
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, fs, postgres, datastore; got %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.MinPasswordLength < 1 {
		return errors.New("auth.min_password_length must be positive")
	}
	if c.Auth.ResetTokenTTLMinutes < 1 {
		return errors.New("auth.reset_token_ttl_minutes must be positive")
	}
	if _, err := bookauth.ParseLinkPolicy(c.Auth.LinkPolicy); err != nil {
		return fmt.Errorf("auth.link_policy: %w", err)
	}
	if c.Session.TimeoutSeconds < 60 {
		return errors.New("session.timeout_seconds must be at least 60")
	}
	return nil
}

func (c *Config) validateMail() error {
	if c.Mail.Host == "" {
		return nil
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		return fmt.Errorf("mail.port out of range: %d", c.Mail.Port)
	}
	if c.Mail.From == "" && c.Mail.User == "" {
		return errors.New("mail.from (or mail.user) is required when mail.host is set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
