package oauth

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/security"
	"github.com/giantswarm/mcp-authflow/server"
)

const loginPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Sign in</title>
    <style>
        body { font-family: system-ui, sans-serif; margin: 40px auto; max-width: 520px; }
        .box { border: 1px solid #e5e7eb; border-radius: 8px; padding: 24px; }
        .row { margin-bottom: 12px; }
        label { display: block; margin-bottom: 6px; color: #374151; }
        input { width: 100%; padding: 10px; border: 1px solid #d1d5db; border-radius: 6px; box-sizing: border-box; }
        button { background: #2563eb; color: white; padding: 10px 16px; border: 0; border-radius: 6px; cursor: pointer; }
        .creds { background: #f3f4f6; border-radius: 6px; padding: 10px; font-size: 14px; margin-bottom: 12px; }
    </style>
</head>
<body>
    <div class="box">
        <h2>Sign in</h2>
        {{if .ClientName}}<p><strong>{{.ClientName}}</strong> is requesting access.</p>{{end}}
        {{if .DemoHint}}
        <div class="creds">
            <div><strong>Username:</strong> {{.DemoUsername}}</div>
            <div><strong>Password:</strong> {{.DemoPassword}}</div>
        </div>
        {{end}}
        <form action="{{.Action}}" method="post">
            <input type="hidden" name="state" value="{{.State}}">
            <div class="row">
                <label for="username">Username</label>
                <input id="username" name="username" autocomplete="username" required>
            </div>
            <div class="row">
                <label for="password">Password</label>
                <input id="password" type="password" name="password" autocomplete="current-password" required>
            </div>
            <button type="submit">Sign in</button>
        </form>
    </div>
</body>
</html>`

var loginPage = template.Must(template.New("login").Parse(loginPageTemplate))

type loginPageData struct {
	Action       string
	State        string
	ClientName   string
	DemoHint     bool
	DemoUsername string
	DemoPassword string
}

// ServeLoginPage renders the login form for a pending authorization.
func (h *Handler) ServeLoginPage(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	state := r.URL.Query().Get("state")
	if state == "" {
		h.recordHTTPMetrics(ctx, "login", http.MethodGet, http.StatusBadRequest, startTime)
		http.Error(w, "Missing state parameter", http.StatusBadRequest)
		return
	}

	pending, err := h.server.GetPendingAuthorization(ctx, state)
	if err != nil {
		status := http.StatusBadRequest
		msg := "Unknown or expired state"
		if !errors.Is(err, server.ErrInvalidState) {
			h.requestLogger(r.Context()).Error("Failed to load pending authorization", "error", err)
			status, msg = http.StatusInternalServerError, "Internal server error"
		}
		h.recordHTTPMetrics(ctx, "login", http.MethodGet, status, startTime)
		http.Error(w, msg, status)
		return
	}

	data := loginPageData{
		Action:       LoginCallbackPath,
		State:        state,
		DemoHint:     h.demoHint,
		DemoUsername: server.DemoUsername,
		DemoPassword: server.DemoPassword,
	}
	if client, err := h.server.GetClient(ctx, pending.ClientID); err == nil {
		data.ClientName = client.ClientName
	}

	var buf bytes.Buffer
	if err := loginPage.Execute(&buf, data); err != nil {
		h.requestLogger(r.Context()).Error("Failed to render login page", "error", err)
		h.recordHTTPMetrics(ctx, "login", http.MethodGet, http.StatusInternalServerError, startTime)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	security.SetPageSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	h.recordHTTPMetrics(ctx, "login", http.MethodGet, http.StatusOK, startTime)
}

// ServeLoginCallback verifies the submitted credentials and completes the
// login. The state is checked before the credentials.
func (h *Handler) ServeLoginCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.login_callback")
	defer endSpan(span)

	ctx := r.Context()
	clientIP := h.ipResolver.ClientIP(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "login_callback", http.MethodPost, http.StatusBadRequest, startTime)
		http.Error(w, "Invalid form parameters", http.StatusBadRequest)
		return
	}
	_, hasUser := r.PostForm["username"]
	_, hasPass := r.PostForm["password"]
	_, hasState := r.PostForm["state"]
	if !hasUser || !hasPass || !hasState {
		h.recordHTTPMetrics(ctx, "login_callback", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "invalid form parameters")
		http.Error(w, "Invalid form parameters", http.StatusBadRequest)
		return
	}

	ok := h.credentials.VerifyCredentials(ctx, r.PostFormValue("username"), r.PostFormValue("password"))

	redirectURL, err := h.server.CompleteLogin(ctx, r.PostFormValue("state"), ok, clientIP)
	if err != nil {
		status, msg := http.StatusInternalServerError, "Internal server error"
		switch {
		case errors.Is(err, server.ErrInvalidState):
			status, msg = http.StatusBadRequest, "Unknown or expired state"
		case errors.Is(err, server.ErrUnauthenticated):
			status, msg = http.StatusUnauthorized, "Invalid credentials"
		default:
			h.requestLogger(r.Context()).Error("Failed to complete login", "ip", clientIP, "error", err)
		}
		h.recordHTTPMetrics(ctx, "login_callback", http.MethodPost, status, startTime)
		instrumentation.RecordError(span, err)
		http.Error(w, msg, status)
		return
	}

	h.recordHTTPMetrics(ctx, "login_callback", http.MethodPost, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}
