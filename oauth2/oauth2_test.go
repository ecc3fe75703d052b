package oauth2_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"

	"github.com/panyam/bookauth"
	"github.com/panyam/bookauth/oauth2"
)

// mockOAuthServer stands in for a provider:
// - /token for the code exchange
// - /userinfo for the profile
// - /emails for GitHub's address list
type mockOAuthServer struct {
	server           *httptest.Server
	tokenEndpoint    string
	userInfoEndpoint string
	emailsEndpoint   string

	mu               sync.Mutex
	tokenResponse    map[string]any
	userInfoResponse map[string]any
	emailsResponse   []map[string]any
	tokenError       bool
	userInfoError    bool
	lastAuthHeader   string
}

func newMockOAuthServer() *mockOAuthServer {
	mock := &mockOAuthServer{
		tokenResponse: map[string]any{
			"access_token":  "mock_access_token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "mock_refresh_token",
		},
		userInfoResponse: map[string]any{
			"id":             "12345",
			"email":          "ana@example.com",
			"verified_email": true,
			"name":           "Ana",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		if mock.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.tokenResponse)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		mock.lastAuthHeader = r.Header.Get("Authorization")
		if mock.userInfoError {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfoResponse)
	})
	mux.HandleFunc("/emails", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		if mock.emailsResponse == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.emailsResponse)
	})

	mock.server = httptest.NewServer(mux)
	mock.tokenEndpoint = mock.server.URL + "/token"
	mock.userInfoEndpoint = mock.server.URL + "/userinfo"
	mock.emailsEndpoint = mock.server.URL + "/emails"
	return mock
}

func (m *mockOAuthServer) Close() {
	m.server.Close()
}

func (m *mockOAuthServer) endpoint() oauth2lib.Endpoint {
	return oauth2lib.Endpoint{
		AuthURL:   m.server.URL + "/auth",
		TokenURL:  m.tokenEndpoint,
		AuthStyle: oauth2lib.AuthStyleInParams,
	}
}

// callbackRequest builds a callback carrying a matching state cookie
func callbackRequest(query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/callback?"+query, nil)
	req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "test-state"})
	return req
}

type profileRecorder struct {
	profiles []bookauth.ProviderProfile
}

func (p *profileRecorder) handle(profile bookauth.ProviderProfile, w http.ResponseWriter, r *http.Request) {
	p.profiles = append(p.profiles, profile)
	w.WriteHeader(http.StatusOK)
}

func TestOauthRedirector(t *testing.T) {
	config := &oauth2lib.Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		Scopes:       []string{"email", "profile"},
		Endpoint: oauth2lib.Endpoint{
			AuthURL:  "https://provider.example.com/auth",
			TokenURL: "https://provider.example.com/token",
		},
	}
	redirector := oauth2.OauthRedirector(config)

	t.Run("redirects to provider", func(t *testing.T) {
		rr := httptest.NewRecorder()
		redirector(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusFound, rr.Code)
		location := rr.Header().Get("Location")
		assert.True(t, strings.HasPrefix(location, "https://provider.example.com/auth"), location)

		parsed, err := url.Parse(location)
		require.NoError(t, err)
		q := parsed.Query()
		assert.Equal(t, "test-client-id", q.Get("client_id"))
		assert.Equal(t, "http://localhost:8080/auth/google/callback", q.Get("redirect_uri"))
		assert.Equal(t, "code", q.Get("response_type"))
		assert.NotEmpty(t, q.Get("state"))
	})

	t.Run("state cookie matches state param", func(t *testing.T) {
		rr := httptest.NewRecorder()
		redirector(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		parsed, _ := url.Parse(rr.Header().Get("Location"))
		var stateCookie *http.Cookie
		for _, c := range rr.Result().Cookies() {
			if c.Name == "oauthstate" {
				stateCookie = c
			}
		}
		require.NotNil(t, stateCookie)
		assert.True(t, stateCookie.HttpOnly)
		assert.Equal(t, parsed.Query().Get("state"), stateCookie.Value)
	})

	t.Run("remembers callbackURL", func(t *testing.T) {
		rr := httptest.NewRecorder()
		redirector(rr, httptest.NewRequest(http.MethodGet, "/?callbackURL=/books", nil))

		found := false
		for _, c := range rr.Result().Cookies() {
			if c.Name == "oauthCallbackURL" {
				found = true
				assert.Equal(t, "/books", c.Value)
			}
		}
		assert.True(t, found)
	})

	t.Run("states are unique", func(t *testing.T) {
		seen := map[string]bool{}
		for range 20 {
			rr := httptest.NewRecorder()
			redirector(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			parsed, _ := url.Parse(rr.Header().Get("Location"))
			state := parsed.Query().Get("state")
			assert.False(t, seen[state], "duplicate state %s", state)
			seen[state] = true
		}
	})
}

func newGoogle(t *testing.T, mock *mockOAuthServer, rec *profileRecorder) *oauth2.GoogleOAuth2 {
	t.Helper()
	g := oauth2.NewGoogleOAuth2("cid", "secret", "http://localhost/auth/google/callback", rec.handle)
	g.UserInfoURL = mock.userInfoEndpoint
	g.SetHTTPClient(mock.server.Client())
	g.SetOAuthEndpoint(mock.endpoint())
	return g
}

func TestGoogleOAuth2Callback(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()

	t.Run("root redirects to provider", func(t *testing.T) {
		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), mock.server.URL+"/auth"))
	})

	t.Run("successful callback yields profile", func(t *testing.T) {
		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, callbackRequest("state=test-state&code=abc"))

		require.Equal(t, http.StatusOK, rr.Code)
		require.Len(t, rec.profiles, 1)
		p := rec.profiles[0]
		assert.Equal(t, "google", p.Provider)
		assert.Equal(t, "12345", p.ExternalID)
		assert.Equal(t, "ana@example.com", p.Email)
		assert.Equal(t, "Ana", p.DisplayName)
		assert.True(t, p.EmailVerified)
		assert.Equal(t, "google:12345", p.QualifiedID())
		assert.Equal(t, "Bearer mock_access_token", mock.lastAuthHeader)
	})

	t.Run("state mismatch is rejected", func(t *testing.T) {
		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, callbackRequest("state=other&code=abc"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid oauth")
		assert.Empty(t, rec.profiles)
	})

	t.Run("missing state cookie is rejected", func(t *testing.T) {
		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/callback?state=x&code=abc", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, rec.profiles)
	})

	t.Run("user denial redirects to failure url", func(t *testing.T) {
		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, callbackRequest("state=test-state&error=access_denied"))
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "/login?error=google", rr.Header().Get("Location"))
		assert.Empty(t, rec.profiles)
	})

	t.Run("token exchange failure redirects", func(t *testing.T) {
		mock.mu.Lock()
		mock.tokenError = true
		mock.mu.Unlock()
		defer func() { mock.mu.Lock(); mock.tokenError = false; mock.mu.Unlock() }()

		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, callbackRequest("state=test-state&code=abc"))
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Empty(t, rec.profiles)
	})

	t.Run("userinfo failure redirects", func(t *testing.T) {
		mock.mu.Lock()
		mock.userInfoError = true
		mock.mu.Unlock()
		defer func() { mock.mu.Lock(); mock.userInfoError = false; mock.mu.Unlock() }()

		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, callbackRequest("state=test-state&code=abc"))
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Empty(t, rec.profiles)
	})

	t.Run("profile without email is a provider error", func(t *testing.T) {
		mock.mu.Lock()
		saved := mock.userInfoResponse
		mock.userInfoResponse = map[string]any{"id": "12345", "name": "Ana"}
		mock.mu.Unlock()
		defer func() { mock.mu.Lock(); mock.userInfoResponse = saved; mock.mu.Unlock() }()

		rec := &profileRecorder{}
		g := newGoogle(t, mock, rec)
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, callbackRequest("state=test-state&code=abc"))
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Empty(t, rec.profiles)
	})

	t.Run("post is not allowed", func(t *testing.T) {
		g := newGoogle(t, mock, &profileRecorder{})
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/callback", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestGithubOAuth2Callback(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()
	mock.userInfoResponse = map[string]any{
		"id":    987,
		"login": "ana-reads",
		"name":  "",
		"email": "public@example.com",
	}

	newGithub := func(rec *profileRecorder) *oauth2.GithubOAuth2 {
		g := oauth2.NewGithubOAuth2("cid", "secret", "http://localhost/auth/github/callback", rec.handle)
		g.UserInfoURL = mock.userInfoEndpoint
		g.EmailsURL = mock.emailsEndpoint
		g.SetHTTPClient(mock.server.Client())
		g.SetOAuthEndpoint(mock.endpoint())
		return g
	}

	t.Run("prefers primary verified email", func(t *testing.T) {
		mock.mu.Lock()
		mock.emailsResponse = []map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "ana@example.com", "primary": true, "verified": true},
		}
		mock.mu.Unlock()

		rec := &profileRecorder{}
		rr := httptest.NewRecorder()
		newGithub(rec).Handler().ServeHTTP(rr, callbackRequest("state=test-state&code=abc"))

		require.Len(t, rec.profiles, 1)
		p := rec.profiles[0]
		assert.Equal(t, "github", p.Provider)
		assert.Equal(t, "987", p.ExternalID)
		assert.Equal(t, "ana@example.com", p.Email)
		assert.True(t, p.EmailVerified)
		assert.Equal(t, "ana-reads", p.DisplayName)
	})

	t.Run("falls back to public email", func(t *testing.T) {
		mock.mu.Lock()
		mock.emailsResponse = nil
		mock.mu.Unlock()

		rec := &profileRecorder{}
		rr := httptest.NewRecorder()
		newGithub(rec).Handler().ServeHTTP(rr, callbackRequest("state=test-state&code=abc"))

		require.Len(t, rec.profiles, 1)
		assert.Equal(t, "public@example.com", rec.profiles[0].Email)
		assert.False(t, rec.profiles[0].EmailVerified)
	})
}

func TestBaseOAuth2Configuration(t *testing.T) {
	g := oauth2.NewGoogleOAuth2("cid", "secret", "http://localhost/cb", nil)
	cfg := g.OAuthConfig()
	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, "http://localhost/cb", cfg.RedirectURL)
	assert.Contains(t, cfg.Endpoint.AuthURL, "accounts.google.com")

	g.SetOAuthEndpoint(oauth2lib.Endpoint{AuthURL: "http://mock/auth", TokenURL: "http://mock/token"})
	assert.Equal(t, "http://mock/auth", g.OAuthConfig().Endpoint.AuthURL)

	gh := oauth2.NewGithubOAuth2("cid", "secret", "http://localhost/cb", nil)
	assert.Equal(t, "https://api.github.com/user", gh.UserInfoURL)
	assert.Contains(t, gh.OAuthConfig().Scopes, "user:email")
}

func TestEnvironmentVariableDefaults(t *testing.T) {
	t.Setenv("OAUTH2_GOOGLE_CLIENT_ID", "env-google-id")
	t.Setenv("OAUTH2_GOOGLE_CLIENT_SECRET", "env-google-secret")
	t.Setenv("OAUTH2_GOOGLE_CALLBACK_URL", "http://env/google/cb")
	t.Setenv("OAUTH2_GITHUB_CLIENT_ID", " env-github-id ")

	g := oauth2.NewGoogleOAuth2("", "", "", nil)
	assert.Equal(t, "env-google-id", g.ClientId)
	assert.Equal(t, "env-google-secret", g.ClientSecret)
	assert.Equal(t, "http://env/google/cb", g.CallbackURL)

	gh := oauth2.NewGithubOAuth2("", "", "", nil)
	assert.Equal(t, "env-github-id", gh.ClientId)

	explicit := oauth2.NewGoogleOAuth2("given", "", "", nil)
	assert.Equal(t, "given", explicit.ClientId)
}
