package oauth2

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/panyam/bookauth"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	UserInfoURL string

	// EmailsURL lists the user's addresses when the profile hides the email
	EmailsURL string
}

func NewGithubOAuth2(clientId string, clientSecret string, callbackUrl string, handleProfile HandleProfileFunc) *GithubOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CALLBACK_URL"))
	}

	out := &GithubOAuth2{
		BaseOAuth2:  NewBaseOAuth2("github", clientId, clientSecret, callbackUrl, handleProfile),
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
	out.oauthConfig.Endpoint = github.Endpoint
	out.oauthConfig.Scopes = []string{"read:user", "user:email"}
	out.fetchProfile = out.getUserProfile
	return out
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *GithubOAuth2) getUserProfile(ctx context.Context, client *http.Client, token *oauth2.Token) (bookauth.ProviderProfile, error) {
	var user githubUser
	if err := getJSON(ctx, client, g.UserInfoURL, token, &user); err != nil {
		return bookauth.ProviderProfile{}, err
	}
	profile := bookauth.ProviderProfile{
		Email:       user.Email,
		DisplayName: user.Name,
	}
	if user.ID != 0 {
		profile.ExternalID = strconv.FormatInt(user.ID, 10)
	}
	if profile.DisplayName == "" {
		profile.DisplayName = user.Login
	}

	// The public profile email is unverified and often hidden; prefer the
	// primary verified address.
	if g.EmailsURL != "" {
		var emails []githubEmail
		if err := getJSON(ctx, client, g.EmailsURL, token, &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					profile.Email = e.Email
					profile.EmailVerified = true
					break
				}
			}
		} else if profile.Email == "" {
			return bookauth.ProviderProfile{}, err
		}
	}
	return profile, nil
}
