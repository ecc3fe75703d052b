package bookauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type userContextKey struct{}

// UserFromContext returns the user placed in the context by one of the guards
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey{}).(*User)
	return user
}

// ContextWithUser stores user for downstream handlers
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// Middleware gates routes by authentication state.
type Middleware struct {
	Sessions *SessionManager

	// Where unauthenticated callers are sent. Defaults to "/login"
	LoginURL string

	// Where authenticated callers are sent away from guest pages. Defaults to "/"
	HomeURL string

	// Query parameter carrying the page to return to after login
	CallbackURLParam string

	Logger *slog.Logger
}

// EnsureReasonableDefaults ensures that config values have reasonable defaults.
func (a *Middleware) EnsureReasonableDefaults() {
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
	if a.HomeURL == "" {
		a.HomeURL = "/"
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "callbackURL"
	}
}

// ExtractUser loads the user, if any, into the request context without
// enforcing anything.
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.resolve(w, r)
		if !ok {
			return
		}
		if user != nil {
			r = r.WithContext(ContextWithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// AuthGuard redirects unauthenticated requests to the login page. JSON
// callers get a 401 instead.
func (a *Middleware) AuthGuard(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.resolve(w, r)
		if !ok {
			return
		}
		if user == nil {
			if wantsJSON(r) {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Login required", "code": "unauthenticated"})
				return
			}
			encodedUrl := strings.Replace(url.QueryEscape(r.URL.RequestURI()), "+", "%20", -1)
			http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", a.LoginURL, a.CallbackURLParam, encodedUrl), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// GuestGuard redirects already authenticated requests away from the login and
// register pages.
func (a *Middleware) GuestGuard(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.resolve(w, r)
		if !ok {
			return
		}
		if user != nil {
			http.Redirect(w, r, a.HomeURL, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Middleware) resolve(w http.ResponseWriter, r *http.Request) (*User, bool) {
	user, err := a.Sessions.Resolve(r)
	if err != nil {
		loggerOr(a.Logger).Error("error resolving session", "err", err)
		writeAuthError(w, ToAuthError(err))
		return nil, false
	}
	return user, true
}
