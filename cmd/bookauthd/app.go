package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/panyam/bookauth"
	"github.com/panyam/bookauth/internal/config"
	"github.com/panyam/bookauth/oauth2"
)

// newBookAuth assembles the auth core from cfg. Providers are mounted only
// when both their client id and secret are configured.
func newBookAuth(cfg *config.Config, store bookauth.UserStore, logger *slog.Logger) *bookauth.BookAuth {
	policy, _ := bookauth.ParseLinkPolicy(cfg.Auth.LinkPolicy)

	ba := &bookauth.BookAuth{
		Store:   store,
		BaseURL: cfg.Server.BaseURL,
		Sessions: &bookauth.SessionManager{
			CookieDomains:           cfg.Server.CookieDomains,
			SecureCookie:            cfg.Server.SecureCookie,
			JWTIssuer:               cfg.Session.JWTIssuer,
			JWTSecretKey:            cfg.Session.JWTSecret,
			SessionTimeoutInSeconds: cfg.Session.TimeoutSeconds,
		},
		LinkPolicy:        policy,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		TokenExpiry:       time.Duration(cfg.Auth.ResetTokenTTLMinutes) * time.Minute,
		Logger:            logger,
	}
	if cfg.Mail.Host != "" {
		ba.EmailSender = &bookauth.SMTPEmailSender{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Secure:   cfg.Mail.Secure,
			Username: cfg.Mail.User,
			Password: cfg.Mail.Pass,
			From:     cfg.Mail.From,
			Timeout:  time.Duration(cfg.Mail.TimeoutSeconds) * time.Second,
		}
	}

	if p := cfg.OAuth.Google; p.Enabled() {
		google := oauth2.NewGoogleOAuth2(p.ClientID, p.ClientSecret, callbackURL(cfg, p, "google"), ba.HandleProfile)
		google.Logger = logger
		ba.AddProvider("google", google)
	}
	if p := cfg.OAuth.GitHub; p.Enabled() {
		github := oauth2.NewGithubOAuth2(p.ClientID, p.ClientSecret, callbackURL(cfg, p, "github"), ba.HandleProfile)
		github.Logger = logger
		ba.AddProvider("github", github)
	}
	return ba.EnsureDefaults()
}

func callbackURL(cfg *config.Config, p config.Provider, name string) string {
	if p.CallbackURL != "" {
		return p.CallbackURL
	}
	return strings.TrimSuffix(cfg.Server.BaseURL, "/") + "/auth/" + name + "/callback"
}
