package bookauth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// authRequest holds the fields of any of the auth forms. It is read from a
// JSON body or from form values depending on the request content type.
type authRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
	CallbackURL  string `json:"callbackURL"`
}

func readAuthRequest(r *http.Request) (*authRequest, error) {
	req := &authRequest{}
	if isJSONBody(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(req); err != nil {
			return nil, NewAuthError("invalid_request", "Invalid request body", "")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, NewAuthError("invalid_request", "Invalid form data", "")
	}
	req.Name = r.PostFormValue("name")
	req.Email = r.PostFormValue("email")
	req.Password = r.PostFormValue("password")
	req.Confirmation = r.PostFormValue("confirmation")
	if req.Confirmation == "" {
		req.Confirmation = r.PostFormValue("confirm_password")
	}
	req.CallbackURL = r.FormValue("callbackURL")
	return req, nil
}

func isJSONBody(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// wantsJSON reports whether the caller is an API client rather than a browser
// submitting a form.
func wantsJSON(r *http.Request) bool {
	if isJSONBody(r) {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAuthError(w http.ResponseWriter, err *AuthError) {
	status := err.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, err)
}

// safeRedirect only allows local paths so callbackURL can not be used as an
// open redirect.
func safeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	return target
}

// fail reports err to the caller. The OnError hook gets the first chance,
// then JSON callers get the AuthError body and browsers get page re-rendered
// with the message.
func (a *BookAuth) fail(w http.ResponseWriter, r *http.Request, err error, page string, data *PageData) {
	authErr := ToAuthError(err)
	if authErr.Code == ErrCodeServerError {
		a.logger().Error("auth request failed", "path", r.URL.Path, "err", err)
	}
	if a.OnError != nil && a.OnError(authErr, w, r) {
		return
	}
	if wantsJSON(r) || page == "" {
		writeAuthError(w, authErr)
		return
	}
	if data == nil {
		data = &PageData{}
	}
	data.Error = authErr.Message
	data.Field = authErr.Field
	a.Views.Render(w, authErr.Status, page, data)
}

func (a *BookAuth) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	a.Views.Render(w, http.StatusOK, PageLogin, &PageData{
		CallbackURL: r.URL.Query().Get("callbackURL"),
		Providers:   a.providerNames(),
	})
}

func (a *BookAuth) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := readAuthRequest(r)
	if err != nil {
		a.fail(w, r, err, PageLogin, nil)
		return
	}
	page := &PageData{Email: req.Email, CallbackURL: req.CallbackURL, Providers: a.providerNames()}

	user, err := a.auth.Authenticate(r.Context(), PasswordCredentials{Email: req.Email, Password: req.Password})
	if err != nil {
		a.fail(w, r, err, PageLogin, page)
		return
	}
	a.completeLogin(w, r, user, req.CallbackURL, http.StatusOK)
}

func (a *BookAuth) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	a.Views.Render(w, http.StatusOK, PageRegister, &PageData{
		CallbackURL: r.URL.Query().Get("callbackURL"),
		Providers:   a.providerNames(),
	})
}

func (a *BookAuth) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := readAuthRequest(r)
	if err != nil {
		a.fail(w, r, err, PageRegister, nil)
		return
	}
	page := &PageData{Name: req.Name, Email: req.Email, CallbackURL: req.CallbackURL, Providers: a.providerNames()}

	user, err := a.registrar.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err, PageRegister, page)
		return
	}
	a.completeLogin(w, r, user, req.CallbackURL, http.StatusCreated)
}

// completeLogin establishes the session and sends the caller on. JSON callers
// get the token, browsers are redirected.
func (a *BookAuth) completeLogin(w http.ResponseWriter, r *http.Request, user *User, callbackURL string, status int) {
	token, err := a.Sessions.Establish(w, r, user)
	if err != nil {
		a.fail(w, r, err, "", nil)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, status, map[string]any{
			"token":      token,
			"expires_in": a.Sessions.SessionTimeoutInSeconds,
			"user":       user.Profile(),
		})
		return
	}
	http.Redirect(w, r, safeRedirect(callbackURL, a.HomeURL), http.StatusFound)
}

func (a *BookAuth) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Terminate(w, r); err != nil {
		a.fail(w, r, err, "", nil)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
		return
	}
	http.Redirect(w, r, safeRedirect(r.URL.Query().Get("to"), a.LoginURL), http.StatusFound)
}

// HandleProfile completes an OAuth handshake. It is the HandleProfileFunc the
// provider handlers in the oauth2 package call back into.
func (a *BookAuth) HandleProfile(profile ProviderProfile, w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()
	user, err := a.auth.Authenticate(r.Context(), profile)
	if err != nil {
		a.fail(w, r, err, PageLogin, &PageData{Providers: a.providerNames()})
		return
	}

	callbackURL := ""
	if c, _ := r.Cookie(oauthCallbackCookie); c != nil {
		callbackURL = c.Value
	}
	// single use
	http.SetCookie(w, &http.Cookie{
		Name:    oauthCallbackCookie,
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	a.completeLogin(w, r, user, callbackURL, http.StatusOK)
}

func (a *BookAuth) handleForgotForm(w http.ResponseWriter, r *http.Request) {
	a.Views.Render(w, http.StatusOK, PageForgotPassword, &PageData{})
}

// handleForgot answers the same way whether or not the email is registered.
func (a *BookAuth) handleForgot(w http.ResponseWriter, r *http.Request) {
	req, err := readAuthRequest(r)
	if err != nil {
		a.fail(w, r, err, PageForgotPassword, nil)
		return
	}
	if err := a.reset.RequestReset(r.Context(), req.Email); err != nil {
		a.fail(w, r, err, PageForgotPassword, &PageData{Email: req.Email})
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"message": resetAcknowledgement})
		return
	}
	a.Views.Render(w, http.StatusOK, PageForgotPasswordSent, &PageData{Message: resetAcknowledgement})
}

func (a *BookAuth) handleResetForm(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if _, err := a.reset.CheckToken(r.Context(), token); err != nil {
		a.fail(w, r, err, PageResetInvalid, &PageData{})
		return
	}
	a.Views.Render(w, http.StatusOK, PageResetPassword, &PageData{Token: token})
}

func (a *BookAuth) handleReset(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	req, err := readAuthRequest(r)
	if err != nil {
		a.fail(w, r, err, PageResetPassword, &PageData{Token: token})
		return
	}

	user, err := a.reset.Redeem(r.Context(), token, req.Password, req.Confirmation)
	if err != nil {
		page := PageResetPassword
		if ToAuthError(err).Code == ErrCodeInvalidToken {
			page = PageResetInvalid
		}
		a.fail(w, r, err, page, &PageData{Token: token})
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Password updated", "user_id": user.ID})
		return
	}
	http.Redirect(w, r, a.LoginURL+"?"+url.Values{"reset": {"1"}}.Encode(), http.StatusFound)
}

func (a *BookAuth) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user.Profile())
}

const (
	oauthCallbackCookie  = "oauthCallbackURL"
	resetAcknowledgement = "If an account exists for that email, a reset link is on its way."
)
