package bookauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are carried by the auth token. SessionID ties the token to a
// server side session so logging out revokes it as well.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// SessionManager binds an authenticated user id to the client. Only the id is
// kept in the session; Resolve reloads the user from Store on every request.
type SessionManager struct {
	Session *scs.SessionManager
	Store   UserStore

	// Name of the session variable holding the user id
	UserParamName string

	// Name of the cookie carrying the JWT auth token
	AuthTokenCookieName string

	// All the domains where the auth token cookie will be set on a login or logout
	CookieDomains []string
	SecureCookie  bool

	JWTIssuer    string
	JWTSecretKey string

	// How long is a session valid for. Defaults to 1 day
	SessionTimeoutInSeconds int

	Logger *slog.Logger
}

// EnsureDefaults fills in unset fields. It creates an scs manager with the
// in-memory store if none was given.
func (m *SessionManager) EnsureDefaults() *SessionManager {
	if m.SessionTimeoutInSeconds <= 0 {
		m.SessionTimeoutInSeconds = 86400
	}
	if m.UserParamName == "" {
		m.UserParamName = "loggedInUserId"
	}
	if m.AuthTokenCookieName == "" {
		m.AuthTokenCookieName = "BookAuthToken"
	}
	if m.JWTIssuer == "" {
		m.JWTIssuer = "BookAuth-Issuer"
	}
	if m.Session == nil {
		m.Session = scs.New()
		m.Session.Lifetime = m.lifetime()
		m.Session.Cookie.Name = "bookauth_session"
		m.Session.Cookie.HttpOnly = true
		m.Session.Cookie.SameSite = http.SameSiteLaxMode
		m.Session.Cookie.Secure = m.SecureCookie
	}
	return m
}

func (m *SessionManager) lifetime() time.Duration {
	return time.Duration(m.SessionTimeoutInSeconds) * time.Second
}

// LoadAndSave wraps next with the scs session middleware. Establish, Resolve
// and Terminate need it on the request path.
func (m *SessionManager) LoadAndSave(next http.Handler) http.Handler {
	return m.Session.LoadAndSave(next)
}

// Establish starts a fresh session for user and returns the signed auth token
// that was also set as a cookie.
func (m *SessionManager) Establish(w http.ResponseWriter, r *http.Request, user *User) (string, error) {
	ctx := r.Context()
	// new session token on every login
	if err := m.Session.RenewToken(ctx); err != nil {
		return "", fmt.Errorf("failed to renew session: %w", err)
	}
	m.Session.Put(ctx, m.UserParamName, user.ID)

	tokenString, err := m.SignToken(user.ID, m.Session.Token(ctx))
	if err != nil {
		return "", err
	}
	for _, domain := range m.domains() {
		http.SetCookie(w, &http.Cookie{
			Name:     m.AuthTokenCookieName,
			Value:    tokenString,
			Domain:   domain,
			Path:     "/",
			HttpOnly: true,
			Secure:   m.SecureCookie,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(m.lifetime()),
			MaxAge:   m.SessionTimeoutInSeconds,
		})
	}
	loggerOr(m.Logger).Info("session established", "user_id", user.ID)
	return tokenString, nil
}

// SignToken mints an HS256 token for userID bound to sessionID
func (m *SessionManager) SignToken(userID, sessionID string) (string, error) {
	if m.JWTSecretKey == "" {
		return "", errors.New("jwt secret key not configured")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime())),
		},
		SessionID: sessionID,
	})
	tokenString, err := token.SignedString([]byte(m.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return tokenString, nil
}

// VerifyToken checks signature, issuer and expiry, and that the session the
// token was minted for still exists and still belongs to the same user.
func (m *SessionManager) VerifyToken(ctx context.Context, tokenString string) (string, error) {
	claims, err := m.verifyClaims(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (m *SessionManager) verifyClaims(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(m.JWTSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.JWTIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	if claims.SessionID == "" {
		return nil, errors.New("token not bound to a session")
	}

	data, found, err := m.Session.Store.Find(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !found {
		return nil, errors.New("session ended")
	}
	_, values, err := m.Session.Codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	if uid, _ := values[m.UserParamName].(string); uid != claims.Subject {
		return nil, errors.New("session does not match token")
	}
	return claims, nil
}

// Resolve returns the logged in user, or nil if the request carries no valid
// session or the user no longer exists. Only store failures return an error.
func (m *SessionManager) Resolve(r *http.Request) (*User, error) {
	ctx := r.Context()
	userID := m.Session.GetString(ctx, m.UserParamName)

	if userID == "" {
		for _, tokenString := range m.authTokens(r) {
			uid, err := m.VerifyToken(ctx, tokenString)
			if err == nil {
				userID = uid
				break
			}
			loggerOr(m.Logger).Debug("rejected auth token", "err", err)
		}
	}
	if userID == "" {
		return nil, nil
	}

	user, err := m.Store.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Terminate ends the session and expires the auth token cookie. A bearer
// token on the request also has its session deleted, so API clients can log
// out without a session cookie.
func (m *SessionManager) Terminate(w http.ResponseWriter, r *http.Request) error {
	for _, tokenString := range m.authTokens(r) {
		claims, err := m.verifyClaims(tokenString)
		if err != nil {
			continue
		}
		if err := m.Session.Store.Delete(claims.SessionID); err != nil {
			return fmt.Errorf("error ending token session: %w", err)
		}
	}
	if err := m.Session.Destroy(r.Context()); err != nil {
		return fmt.Errorf("error clearing session: %w", err)
	}
	for _, domain := range m.domains() {
		http.SetCookie(w, &http.Cookie{
			Name:    m.AuthTokenCookieName,
			Domain:  domain,
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Unix(0, 0),
		})
	}
	return nil
}

func (m *SessionManager) authTokens(r *http.Request) []string {
	var tokens []string
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tokens = append(tokens, strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	}
	for _, cookie := range r.CookiesNamed(m.AuthTokenCookieName) {
		if cookie.Value != "" {
			tokens = append(tokens, cookie.Value)
		}
	}
	return tokens
}

func (m *SessionManager) domains() []string {
	domains := m.CookieDomains
	if slices.Index(domains, "") < 0 { // default domain
		domains = append(slices.Clone(domains), "")
	}
	return domains
}
