package bookauth

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

// Page names understood by Views.Render
const (
	PageLogin              = "login"
	PageRegister           = "register"
	PageForgotPassword     = "forgot_password"
	PageForgotPasswordSent = "forgot_password_sent"
	PageResetPassword      = "reset_password"
	PageResetInvalid       = "reset_invalid"
)

// PageData is passed to every page template
type PageData struct {
	Title       string
	Error       string
	Field       string
	Message     string
	Name        string
	Email       string
	Token       string
	CallbackURL string
	Providers   []string
}

// Views renders the auth pages. Host applications can replace Templates with
// their own set as long as it defines the Page* templates.
type Views struct {
	Templates *template.Template
	Logger    *slog.Logger
}

// NewViews parses the built in pages
func NewViews() *Views {
	return &Views{Templates: template.Must(template.New("bookauth").Parse(defaultTemplates))}
}

func (v *Views) Render(w http.ResponseWriter, status int, page string, data *PageData) {
	if data == nil {
		data = &PageData{}
	}
	var buf bytes.Buffer
	if err := v.Templates.ExecuteTemplate(&buf, page, data); err != nil {
		loggerOr(v.Logger).Error("error rendering page", "page", page, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

const defaultTemplates = `
{{define "header"}}<!doctype html>
<html><head><meta charset="utf-8"><title>{{.}}</title></head><body>
<h1>{{.}}</h1>{{end}}
{{define "footer"}}</body></html>{{end}}
{{define "error"}}{{if .Error}}<p class="error" data-field="{{.Field}}">{{.Error}}</p>{{end}}{{end}}
{{define "providers"}}{{range .Providers}}<p><a href="/auth/{{.}}">Continue with {{.}}</a></p>{{end}}{{end}}

{{define "login"}}{{template "header" "Log in"}}{{template "error" .}}
<form method="post" action="/login">
<input type="hidden" name="callbackURL" value="{{.CallbackURL}}">
<label>Email <input type="email" name="email" value="{{.Email}}" required></label>
<label>Password <input type="password" name="password" required></label>
<button type="submit">Log in</button>
</form>
<p><a href="/forgot-password">Forgot your password?</a> <a href="/register">Create an account</a></p>
{{template "providers" .}}{{template "footer"}}{{end}}

{{define "register"}}{{template "header" "Create an account"}}{{template "error" .}}
<form method="post" action="/register">
<input type="hidden" name="callbackURL" value="{{.CallbackURL}}">
<label>Name <input type="text" name="name" value="{{.Name}}" required></label>
<label>Email <input type="email" name="email" value="{{.Email}}" required></label>
<label>Password <input type="password" name="password" required></label>
<button type="submit">Sign up</button>
</form>
<p><a href="/login">Already have an account?</a></p>
{{template "providers" .}}{{template "footer"}}{{end}}

{{define "forgot_password"}}{{template "header" "Forgot password"}}{{template "error" .}}
<form method="post" action="/forgot-password">
<label>Email <input type="email" name="email" value="{{.Email}}" required></label>
<button type="submit">Send reset link</button>
</form>{{template "footer"}}{{end}}

{{define "forgot_password_sent"}}{{template "header" "Check your email"}}
<p>{{.Message}}</p>
<p><a href="/login">Back to log in</a></p>{{template "footer"}}{{end}}

{{define "reset_password"}}{{template "header" "Choose a new password"}}{{template "error" .}}
<form method="post" action="/reset-password/{{.Token}}">
<label>New password <input type="password" name="password" required></label>
<label>Confirm password <input type="password" name="confirmation" required></label>
<button type="submit">Reset password</button>
</form>{{template "footer"}}{{end}}

{{define "reset_invalid"}}{{template "header" "Link expired"}}{{template "error" .}}
<p><a href="/forgot-password">Request a new link</a></p>{{template "footer"}}{{end}}
`
