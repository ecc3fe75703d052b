// Package bookauth provides the account and credential-recovery core of the
// book notes application.
//
// A User can sign in with a local password, with an external OAuth provider,
// or both. Everything else in the application (the book catalog, cover art,
// views) only asks this package one question: is this request authenticated,
// and as whom?
//
// # Architecture
//
// UserStore: persistent user records. Implementations live in the stores
// package tree (memory, fs, gorm, gae) and enforce uniqueness of email and
// OAuth id as well as the conditional update used to redeem reset tokens.
//
// Authenticator: a closed set of credential kinds. PasswordCredentials are
// checked by the LocalAuthenticator, a ProviderProfile (the output of an OAuth
// handshake) is reconciled by the OAuthAuthenticator which finds, links or
// provisions the local account.
//
// SessionManager: binds the authenticated user id to a cookie session (scs)
// and an HS256 JWT for bearer callers. It never caches user fields; every
// request re-loads the user from the store.
//
// PasswordReset: issues single-use, one hour reset tokens. Only a SHA-256
// digest of the token is stored, the plaintext is mailed to the user.
//
// # Basic Usage
//
//	store := memory.NewUserStore()
//	ba := &bookauth.BookAuth{
//	    Store:       store,
//	    EmailSender: &bookauth.ConsoleEmailSender{},
//	    BaseURL:     "https://books.example.com",
//	}
//	ba.AddProvider("google", oauth2.NewGoogleOAuth2("", "", "", ba.HandleProfile))
//	http.ListenAndServe(":8080", ba.Handler())
//
// Other services of the application check the same tokens: the grpc package
// has interceptors that verify the bearer JWT, and the client package is a Go
// client for the JSON endpoints that keeps tokens per server.
//
// # Security
//
// Passwords are hashed with bcrypt. Emails are trimmed and lower-cased before
// storage and lookup. Login failures use one generic message regardless of
// cause, and the forgot-password endpoint responds identically whether or not
// the email is registered.
package bookauth
