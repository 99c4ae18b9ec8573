// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/stacklok/gatehouse/pkg/entities"
)

// LoginData feeds the login form template.
type LoginData struct {
	// Target is the URL the form redirects to after login.
	Target string

	// Mode is "oauth" or "interceptor".
	Mode string

	// ClientID is carried through so /authorize can resolve the client.
	ClientID string

	// Scope is the requested scope string.
	Scope string

	// Reason is a non-empty error reason on re-render after failure.
	Reason string

	// Info holds the tenant's informational links, when present.
	Info *entities.TenantInfo
}

// IndexData feeds the index page template.
type IndexData struct {
	// AppName is the product name.
	AppName string

	// Message is an optional status line (e.g. after logout).
	Message string
}

// Renderer produces the human-facing pages. The external template
// collaborator implements this against per-tenant bundles; the fallback
// renderer serves inline pages so the server works without it.
type Renderer interface {
	// RenderLogin writes the login form. A non-zero status is written first.
	RenderLogin(w http.ResponseWriter, status int, data *LoginData)

	// RenderError writes the error page for a reason key.
	RenderError(w http.ResponseWriter, status int, reason string)

	// RenderIndex writes the index page.
	RenderIndex(w http.ResponseWriter, data *IndexData)
}

const loginPage = `<!DOCTYPE html>
<html><head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Reason}}<p class="error">{{.Reason}}</p>{{end}}
<form method="POST" action="/login">
<input type="hidden" name="location" value="{{.Target}}">
<input type="hidden" name="mode" value="{{.Mode}}">
{{if .ClientID}}<input type="hidden" name="client_id" value="{{.ClientID}}">{{end}}
{{if .Scope}}<input type="hidden" name="scope" value="{{.Scope}}">{{end}}
<label>Username <input type="text" name="username" autocomplete="username"></label>
<label>Password <input type="password" name="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
{{if .Info}}<footer>
{{if .Info.Imprint}}<a href="{{.Info.Imprint}}">Imprint</a>{{end}}
{{if .Info.PrivacyPolicy}}<a href="{{.Info.PrivacyPolicy}}">Privacy</a>{{end}}
{{if .Info.Support}}<a href="{{.Info.Support}}">Support</a>{{end}}
</footer>{{end}}
</body></html>`

const errorPage = `<!DOCTYPE html>
<html><head><title>Error</title></head>
<body><h1>Request failed</h1><p>{{.Reason}}</p></body></html>`

const indexPage = `<!DOCTYPE html>
<html><head><title>{{.AppName}}</title></head>
<body><h1>{{.AppName}}</h1>{{if .Message}}<p>{{.Message}}</p>{{end}}</body></html>`

// FallbackRenderer serves minimal inline pages.
type FallbackRenderer struct {
	login  *template.Template
	err    *template.Template
	index  *template.Template
	logger *slog.Logger
}

// NewFallbackRenderer parses the inline templates.
func NewFallbackRenderer() *FallbackRenderer {
	return &FallbackRenderer{
		login:  template.Must(template.New("login").Parse(loginPage)),
		err:    template.Must(template.New("error").Parse(errorPage)),
		index:  template.Must(template.New("index").Parse(indexPage)),
		logger: slog.Default(),
	}
}

// RenderLogin implements Renderer.
func (f *FallbackRenderer) RenderLogin(w http.ResponseWriter, status int, data *LoginData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := f.login.Execute(w, data); err != nil {
		f.logger.Warn("rendering login page failed", "error", err)
	}
}

// RenderError implements Renderer.
func (f *FallbackRenderer) RenderError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := f.err.Execute(w, struct{ Reason string }{reason}); err != nil {
		f.logger.Warn("rendering error page failed", "error", err)
	}
}

// RenderIndex implements Renderer.
func (f *FallbackRenderer) RenderIndex(w http.ResponseWriter, data *IndexData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := f.index.Execute(w, data); err != nil {
		f.logger.Warn("rendering index page failed", "error", err)
	}
}

var _ Renderer = (*FallbackRenderer)(nil)
