package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/route"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/session"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

// managerKey is the context key for the browser's session manager.
const managerKey contextKey = "session_manager"

// CookieConfig describes the browser session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Sessions resolves the browser session from its cookie, issuing a new ID
// when the cookie is missing or malformed, and stores the session manager in
// the request context. An expired access token is refreshed here so route
// gating sees the outcome.
func Sessions(reg *session.Registry, cookie CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessionIDFromCookie(r, cookie.Name)
			if id == "" {
				id = uuid.NewString()
			}
			// Refresh the cookie lifetime on every request.
			http.SetCookie(w, &http.Cookie{
				Name:     cookie.Name,
				Value:    id,
				Path:     "/",
				MaxAge:   int(cookie.MaxAge.Seconds()),
				HttpOnly: true,
				Secure:   cookie.Secure,
				SameSite: http.SameSiteLaxMode,
			})

			ctx := logger.WithSessionID(r.Context(), id)
			m := reg.Get(ctx, id)
			if !m.Loading() {
				m.EnsureFresh(ctx)
			}
			if u, ok := m.CurrentUser(); ok && u.ID != "" {
				ctx = logger.WithUserID(ctx, u.ID)
			}
			ctx = context.WithValue(ctx, managerKey, m)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionIDFromCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

// managerFromContext returns the session manager stored by Sessions.
func managerFromContext(ctx context.Context) (*session.Manager, bool) {
	m, ok := ctx.Value(managerKey).(*session.Manager)
	return m, ok && m != nil
}

// authState is the route.StateFunc of requests that went through Sessions.
// A request without a session is anonymous.
func authState(r *http.Request) route.AuthState {
	m, ok := managerFromContext(r.Context())
	if !ok {
		return route.AuthState{}
	}
	st := m.Snapshot(r.Context())
	s := route.AuthState{Loading: st.Loading, Authenticated: st.Authenticated}
	if st.User != nil {
		s.Role = st.User.Role
	}
	return s
}

// currentUser returns the manager and its user for a gated handler.
func currentUser(r *http.Request) (*session.Manager, domain.User, bool) {
	m, ok := managerFromContext(r.Context())
	if !ok {
		return nil, domain.User{}, false
	}
	u, ok := m.CurrentUser()
	return m, u, ok
}

// SessionToken returns the access token of the session behind r. It is the
// proxy.TokenFunc of the /api/proxy passthrough.
func SessionToken(r *http.Request) (string, bool) {
	m, ok := managerFromContext(r.Context())
	if !ok {
		return "", false
	}
	tok, ok, err := m.Tokens().Get(r.Context())
	if err != nil || !ok {
		return "", false
	}
	return tok, true
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusForKind maps a failure kind to the status of a view response.
func statusForKind(k domain.ErrorKind) int {
	switch k {
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindTransport:
		return http.StatusServiceUnavailable
	case domain.KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}

// writeView writes a view-model with an optional transient notice.
func writeView(w http.ResponseWriter, status int, data any, notice string) {
	httputil.WriteJSON(w, status, httputil.Response{Data: data, Notice: notice})
}
