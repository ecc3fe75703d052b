package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/panyam/bookauth"
)

type GoogleOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL defaults to Google's v2 userinfo endpoint
	UserInfoURL string
}

// NewGoogleOAuth2 falls back to OAUTH2_GOOGLE_CLIENT_ID, OAUTH2_GOOGLE_CLIENT_SECRET
// and OAUTH2_GOOGLE_CALLBACK_URL for empty arguments.
func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string, handleProfile HandleProfileFunc) *GoogleOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL"))
	}

	out := &GoogleOAuth2{
		BaseOAuth2:  NewBaseOAuth2("google", clientId, clientSecret, callbackUrl, handleProfile),
		UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
	}
	out.oauthConfig.Endpoint = google.Endpoint
	out.oauthConfig.Scopes = []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
	out.fetchProfile = out.getUserProfile
	return out
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

func (g *GoogleOAuth2) getUserProfile(ctx context.Context, client *http.Client, token *oauth2.Token) (bookauth.ProviderProfile, error) {
	var info googleUserInfo
	if err := getJSON(ctx, client, g.UserInfoURL, token, &info); err != nil {
		return bookauth.ProviderProfile{}, err
	}
	return bookauth.ProviderProfile{
		ExternalID:    info.ID,
		Email:         info.Email,
		DisplayName:   info.Name,
		EmailVerified: info.VerifiedEmail,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, token *oauth2.Token, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed getting user info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("user info request returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed decoding user info: %w", err)
	}
	return nil
}
