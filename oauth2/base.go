package oauth2

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/panyam/bookauth"
)

// ProfileFetcher turns an access token into a provider profile.
type ProfileFetcher func(ctx context.Context, client *http.Client, token *oauth2.Token) (bookauth.ProviderProfile, error)

// BaseOAuth2 runs the redirect handshake shared by all providers. Mounted
// under a prefix such as /auth/google it serves:
//
//	GET /           redirect to the provider
//	GET /callback   exchange the code, fetch the profile, call HandleProfile
type BaseOAuth2 struct {
	Provider     string
	ClientId     string
	ClientSecret string
	CallbackURL  string

	HandleProfile HandleProfileFunc

	// Where to send the user when the handshake fails
	AuthFailureUrl string

	// Bounds the code exchange and profile fetch. Defaults to 10s
	Timeout time.Duration

	fetchProfile ProfileFetcher
	oauthConfig  oauth2.Config
	httpClient   *http.Client
	Logger       *slog.Logger
}

func NewBaseOAuth2(provider, clientId, clientSecret, callbackUrl string, handleProfile HandleProfileFunc) *BaseOAuth2 {
	return &BaseOAuth2{
		Provider:       provider,
		ClientId:       clientId,
		ClientSecret:   clientSecret,
		CallbackURL:    callbackUrl,
		HandleProfile:  handleProfile,
		AuthFailureUrl: "/login?error=" + provider,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
	}
}

// Handler returns the handler to mount under the provider prefix
func (b *BaseOAuth2) Handler() http.Handler {
	return b
}

func (b *BaseOAuth2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch strings.Trim(r.URL.Path, "/") {
	case "":
		OauthRedirector(&b.oauthConfig)(w, r)
	case "callback":
		b.handleCallback(w, r)
	default:
		http.NotFound(w, r)
	}
}

// SetHTTPClient overrides the client used for the token exchange and profile fetch
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.httpClient = client
}

// SetOAuthEndpoint overrides the provider endpoint (used by tests and
// self-hosted providers)
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// OAuthConfig returns a copy of the oauth2 configuration
func (b *BaseOAuth2) OAuthConfig() oauth2.Config {
	return b.oauthConfig
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.httpClient != nil {
		return b.httpClient
	}
	return &http.Client{Timeout: b.timeout()}
}

func (b *BaseOAuth2) timeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return 10 * time.Second
}

func (b *BaseOAuth2) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *BaseOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	oauthState, _ := r.Cookie(stateCookieName)
	if oauthState == nil {
		http.Error(w, "OauthState is nil", http.StatusBadRequest)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		clearStateCookie(w)
		http.Error(w, fmt.Sprintf("invalid oauth %s state", b.Provider), http.StatusBadRequest)
		return
	}
	clearStateCookie(w)

	if errParam := r.FormValue("error"); errParam != "" {
		b.logger().Info("provider denied authorization", "provider", b.Provider, "error", errParam)
		http.Redirect(w, r, b.AuthFailureUrl, http.StatusFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), b.timeout())
	defer cancel()
	client := b.getHTTPClient()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	profile, err := b.exchange(ctx, client, r.FormValue("code"))
	if err != nil {
		b.logger().Info("oauth handshake failed, redirecting", "provider", b.Provider, "err", err)
		http.Redirect(w, r, b.AuthFailureUrl, http.StatusFound)
		return
	}
	b.HandleProfile(profile, w, r)
}

func (b *BaseOAuth2) exchange(ctx context.Context, client *http.Client, code string) (bookauth.ProviderProfile, error) {
	if code == "" {
		return bookauth.ProviderProfile{}, fmt.Errorf("%w: missing code", bookauth.ErrProvider)
	}
	token, err := b.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return bookauth.ProviderProfile{}, fmt.Errorf("%w: code exchange: %v", bookauth.ErrProvider, err)
	}
	profile, err := b.fetchProfile(ctx, client, token)
	if err != nil {
		return bookauth.ProviderProfile{}, fmt.Errorf("%w: %v", bookauth.ErrProvider, err)
	}
	profile.Provider = b.Provider
	if profile.ExternalID == "" || profile.Email == "" {
		return bookauth.ProviderProfile{}, fmt.Errorf("%w: incomplete profile", bookauth.ErrProvider)
	}
	return profile, nil
}
