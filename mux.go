package bookauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// BookAuth wires the authenticators, the reset protocol and the session
// manager behind one http.Handler.
//
//	GET/POST /register, /login       guest only
//	GET      /logout
//	GET      /auth/{provider}[/callback]
//	GET/POST /forgot-password
//	GET/POST /reset-password/{token}
//	GET      /me                     logged in only
type BookAuth struct {
	// Must be passed in
	Store UserStore

	Hasher         PasswordHasher
	EmailSender    SendEmail
	FallbackSender SendEmail

	// BaseURL prefixes the links in reset emails
	BaseURL string

	Sessions *SessionManager
	Views    *Views

	LinkPolicy        LinkPolicy
	MinPasswordLength int
	TokenExpiry       time.Duration

	// Defaults to "/login" and "/"
	LoginURL string
	HomeURL  string

	OnError AuthErrorHandler
	Logger  *slog.Logger
	Now     func() time.Time

	once      sync.Once
	router    *mux.Router
	providers map[string]http.Handler
	auth      *Authenticator
	registrar *Registrar
	reset     *PasswordReset
	guards    *Middleware
}

// EnsureDefaults builds the components from the configured fields. It runs
// once; later changes to the fields are not picked up.
func (a *BookAuth) EnsureDefaults() *BookAuth {
	a.once.Do(a.setup)
	return a
}

func (a *BookAuth) setup() {
	logger := a.logger()
	if a.Hasher == nil {
		a.Hasher = NewBcryptHasher(0)
	}
	if a.EmailSender == nil {
		logger.Warn("no email sender configured, reset links will only be logged")
		a.EmailSender = &ConsoleEmailSender{Logger: logger}
	}
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
	if a.HomeURL == "" {
		a.HomeURL = "/"
	}
	if a.Views == nil {
		a.Views = NewViews()
	}
	if a.Sessions == nil {
		a.Sessions = &SessionManager{}
	}
	if a.Sessions.Store == nil {
		a.Sessions.Store = a.Store
	}
	if a.Sessions.Logger == nil {
		a.Sessions.Logger = logger
	}
	if a.Sessions.JWTSecretKey == "" {
		a.Sessions.JWTSecretKey = strings.TrimSpace(os.Getenv("BOOKAUTH_JWT_SECRET_KEY"))
		if a.Sessions.JWTSecretKey == "" {
			logger.Warn("BOOKAUTH_JWT_SECRET_KEY not set, using a per-process key")
			a.Sessions.JWTSecretKey = randomKey()
		}
	}
	a.Sessions.EnsureDefaults()

	a.auth = &Authenticator{
		Local: &LocalAuthenticator{Store: a.Store, Hasher: a.Hasher, Logger: logger},
		OAuth: &OAuthAuthenticator{Store: a.Store, LinkPolicy: a.LinkPolicy, Logger: logger, Now: a.Now},
	}
	a.registrar = &Registrar{
		Store:             a.Store,
		Hasher:            a.Hasher,
		MinPasswordLength: a.MinPasswordLength,
		Logger:            logger,
		Now:               a.Now,
	}
	a.reset = &PasswordReset{
		Store:             a.Store,
		Hasher:            a.Hasher,
		EmailSender:       a.EmailSender,
		FallbackSender:    a.FallbackSender,
		BaseURL:           a.BaseURL,
		TokenExpiry:       a.TokenExpiry,
		MinPasswordLength: a.MinPasswordLength,
		Logger:            logger,
		Now:               a.Now,
	}
	a.guards = &Middleware{
		Sessions: a.Sessions,
		LoginURL: a.LoginURL,
		HomeURL:  a.HomeURL,
		Logger:   logger,
	}
	a.guards.EnsureReasonableDefaults()
}

// AddProvider mounts an OAuth provider handler under /auth/{name}. The
// handler sees "/" for the start of the handshake and "/callback" for the
// return. Providers must be added before Handler is called.
func (a *BookAuth) AddProvider(name string, handler http.Handler) *BookAuth {
	if a.providers == nil {
		a.providers = map[string]http.Handler{}
	}
	a.providers[name] = handler
	a.logger().Info("added auth provider", "provider", name)
	return a
}

// Handler returns the router wrapped in the session middleware
func (a *BookAuth) Handler() http.Handler {
	a.EnsureDefaults()
	if a.router == nil {
		a.router = a.setupRoutes()
	}
	return a.Sessions.LoadAndSave(a.router)
}

func (a *BookAuth) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	guest := a.guards.GuestGuard
	authed := a.guards.AuthGuard

	r.Handle("/login", guest(http.HandlerFunc(a.handleLoginForm))).Methods(http.MethodGet)
	r.Handle("/login", guest(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	r.Handle("/register", guest(http.HandlerFunc(a.handleRegisterForm))).Methods(http.MethodGet)
	r.Handle("/register", guest(http.HandlerFunc(a.handleRegister))).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodGet, http.MethodPost)

	r.Handle("/forgot-password", guest(http.HandlerFunc(a.handleForgotForm))).Methods(http.MethodGet)
	r.HandleFunc("/forgot-password", a.handleForgot).Methods(http.MethodPost)
	r.HandleFunc("/reset-password/{token}", a.handleResetForm).Methods(http.MethodGet)
	r.HandleFunc("/reset-password/{token}", a.handleReset).Methods(http.MethodPost)

	r.Handle("/me", authed(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)

	for _, name := range a.providerNames() {
		prefix := "/auth/" + name
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, a.providers[name]))
	}
	return r
}

// Authenticator returns the credential dispatcher used by the handlers
func (a *BookAuth) Authenticator() *Authenticator {
	return a.EnsureDefaults().auth
}

func (a *BookAuth) Registrar() *Registrar {
	return a.EnsureDefaults().registrar
}

// PasswordReset returns the reset protocol, for example to issue a link out
// of band when mail delivery is down.
func (a *BookAuth) PasswordReset() *PasswordReset {
	return a.EnsureDefaults().reset
}

// Guards returns the middleware host applications can put in front of their
// own routes.
func (a *BookAuth) Guards() *Middleware {
	return a.EnsureDefaults().guards
}

func (a *BookAuth) providerNames() []string {
	names := make([]string, 0, len(a.providers))
	for name := range a.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (a *BookAuth) logger() *slog.Logger {
	return loggerOr(a.Logger)
}

func randomKey() string {
	key, err := GenerateSecureToken()
	if err != nil {
		// never sign sessions with a predictable key
		panic(fmt.Sprintf("bookauth: %v", err))
	}
	return key
}
