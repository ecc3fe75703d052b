package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add Authorization headers.
// TokenSource is asked on every request; an empty token sends the request
// unauthenticated.
type AuthTransport struct {
	Base        http.RoundTripper
	TokenSource func() (string, error)

	// OnUnauthorized is called when a request that carried a token gets a 401
	OnUnauthorized func()
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := ""
	if t.TokenSource != nil {
		var err error
		if token, err = t.TokenSource(); err != nil {
			return nil, err
		}
	}
	if token != "" {
		// Clone the request to avoid mutating the original
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" && t.OnUnauthorized != nil {
		t.OnUnauthorized()
	}
	return resp, nil
}

// NewAuthTransport creates an AuthTransport that always sends token
func NewAuthTransport(token string) *AuthTransport {
	return &AuthTransport{
		Base:        http.DefaultTransport,
		TokenSource: func() (string, error) { return token, nil },
	}
}
