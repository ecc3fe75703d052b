package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/panyam/bookauth"
)

// HandleProfileFunc receives the provider profile once the handshake succeeded.
type HandleProfileFunc func(profile bookauth.ProviderProfile, w http.ResponseWriter, r *http.Request)

const (
	stateCookieName       = "oauthstate"
	callbackURLCookieName = "oauthCallbackURL"
)

func generateStateOauthCookie(w http.ResponseWriter) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("error generating oauth state", "err", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(10 * time.Minute),
		MaxAge:   600,
	})
	return state
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/", MaxAge: -1})
}

// OauthRedirector starts the handshake: it sets the state cookie (and the
// optional callbackURL cookie) and redirects to the provider's consent page.
func OauthRedirector(oauthConfig *oauth2.Config) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		callbackURL := r.URL.Query().Get("callbackURL")
		if callbackURL != "" {
			http.SetCookie(w, &http.Cookie{
				Name:    callbackURLCookieName,
				Value:   callbackURL,
				Path:    "/",
				Expires: time.Now().Add(2 * time.Minute),
				MaxAge:  120, // keep this short
			})
		}
		oauthState := generateStateOauthCookie(w)
		u := oauthConfig.AuthCodeURL(oauthState)
		http.Redirect(w, r, u, http.StatusFound)
	}
}
