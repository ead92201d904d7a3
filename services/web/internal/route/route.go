// Package route decides whether a request may reach a view given the
// browser's session state.
package route

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
)

// Public paths the layer redirects to.
const (
	PathHome      = "/"
	PathLogin     = "/login"
	PathDashboard = "/dashboard"
)

// NextParam carries the originally requested path through the login form.
const NextParam = "next"

// RetryAfterSeconds is sent with the loading view.
const RetryAfterSeconds = 1

// Kind is the outcome of a gating decision.
type Kind string

const (
	KindAllow       Kind = "allow"
	KindRedirect    Kind = "redirect"
	KindShowLoading Kind = "loading"
)

// AuthState is what the layer needs to know about a session.
type AuthState struct {
	Loading       bool
	Authenticated bool
	Role          domain.Role
}

// Decision tells the caller what to render. Location is set for redirects.
type Decision struct {
	Kind     Kind
	Location string
}

// Decide gates a view. It never redirects while the session is still being
// determined. An empty required list admits any authenticated role.
func Decide(state AuthState, required []domain.Role, requestedPath string) Decision {
	if state.Loading {
		return Decision{Kind: KindShowLoading}
	}
	if !state.Authenticated {
		return Decision{Kind: KindRedirect, Location: LoginPath(requestedPath)}
	}
	if len(required) > 0 && !slices.Contains(required, state.Role) {
		return Decision{Kind: KindRedirect, Location: domain.DashboardPath(state.Role)}
	}
	return Decision{Kind: KindAllow}
}

// LoginPath builds the login URL that returns to requestedPath afterwards.
func LoginPath(requestedPath string) string {
	next := SafeNext(requestedPath)
	if next == "" {
		return PathLogin
	}
	return PathLogin + "?" + url.Values{NextParam: {next}}.Encode()
}

// SafeNext returns raw when it is a local absolute path, otherwise "".
// Protocol-relative and absolute URLs are rejected.
func SafeNext(raw string) string {
	if raw == "" || raw[0] != '/' {
		return ""
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return raw
}

// StateFunc extracts the session state of a request.
type StateFunc func(r *http.Request) AuthState

// LoadingView is the body of the loading response.
type LoadingView struct {
	View string `json:"view"`
}

// Require gates the wrapped handler on an authenticated session with one of
// roles. No roles means any authenticated user.
func Require(state StateFunc, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Decide(state(r), roles, r.URL.RequestURI())
			switch d.Kind {
			case KindShowLoading:
				WriteLoading(w)
			case KindRedirect:
				httputil.Redirect(w, r, d.Location)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// DashboardRedirect sends an authenticated user to their own dashboard.
func DashboardRedirect(state StateFunc) http.Handler {
	return Require(state)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.Redirect(w, r, domain.DashboardPath(state(r).Role))
	}))
}

// WriteLoading renders the loading view: 202 with a Retry-After hint.
func WriteLoading(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	httputil.WriteJSON(w, http.StatusAccepted, LoadingView{View: "loading"})
}
