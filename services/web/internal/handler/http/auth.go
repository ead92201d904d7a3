package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/route"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/session"
)

// maxProfileBytes caps PATCH /profile bodies.
const maxProfileBytes = 64 << 10

// NoticePasswordReset is always answered by the forgot-password form.
const NoticePasswordReset = "Si cet email existe, vous recevrez un lien de réinitialisation"

// AuthHandler serves the login, registration, logout and profile views.
type AuthHandler struct {
	logger *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(logger *slog.Logger) *AuthHandler {
	return &AuthHandler{logger: logger}
}

// --- Request DTOs ---

// LoginRequest is the JSON body of POST /login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Next     string `json:"next"`
}

// RegisterRequest is the JSON body of POST /register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"max=150"`
	Role     string `json:"role" validate:"omitempty,oneof=buyer farmer driver acheteur vendeur livreur"`
	Phone    string `json:"phone" validate:"max=30"`
	Location string `json:"location" validate:"max=255"`
}

// ForgotPasswordRequest is the JSON body of POST /forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// --- View models ---

// FormView describes an empty form.
type FormView struct {
	View string `json:"view"`
	Next string `json:"next,omitempty"`
}

// AuthResponse is the answer to a login or registration. Location is where
// the browser should go next.
type AuthResponse struct {
	session.AuthResult
	Location string `json:"location,omitempty"`
}

// SessionView is the state exposed to front-end scripts.
type SessionView struct {
	Authenticated bool         `json:"authenticated"`
	Loading       bool         `json:"loading"`
	User          *domain.User `json:"user"`
	Dashboard     string       `json:"dashboard,omitempty"`
}

// ProfileView is the profile page.
type ProfileView struct {
	View string      `json:"view"`
	User domain.User `json:"user"`
}

// LocationView tells the browser where to go.
type LocationView struct {
	Location string `json:"location"`
}

// --- Handlers ---

// LoginForm handles GET /login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	writeView(w, http.StatusOK, FormView{View: "login", Next: route.SafeNext(r.URL.Query().Get(route.NextParam))}, "")
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	m, ok := managerFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, errors.New("session middleware not mounted"), h.logger)
		return
	}

	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res := m.Login(r.Context(), session.Credentials{Email: req.Email, Password: req.Password})
	h.writeAuthResult(w, r, res, req.Next)
}

// RegisterForm handles GET /register
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, _ *http.Request) {
	writeView(w, http.StatusOK, FormView{View: "register"}, "")
}

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	m, ok := managerFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, errors.New("session middleware not mounted"), h.logger)
		return
	}

	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res := m.Register(r.Context(), session.Registration{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
		Phone:    req.Phone,
		Location: req.Location,
	})
	h.writeAuthResult(w, r, res, "")
}

func (h *AuthHandler) writeAuthResult(w http.ResponseWriter, r *http.Request, res session.AuthResult, next string) {
	if !res.Success {
		logger.FromContext(r.Context()).InfoContext(r.Context(), "authentication rejected",
			slog.String("kind", string(res.Kind)),
		)
		httputil.WriteJSON(w, statusForKind(res.Kind), AuthResponse{AuthResult: res})
		return
	}

	location := route.SafeNext(next)
	if location == "" {
		location = res.RedirectTo
	}
	httputil.WriteJSON(w, http.StatusOK, AuthResponse{AuthResult: res, Location: location})
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	m, ok := managerFromContext(r.Context())
	if ok {
		if err := m.Logout(r.Context()); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}
	writeView(w, http.StatusOK, LocationView{Location: route.PathLogin}, "")
}

// ForgotPasswordForm handles GET /forgot-password
func (h *AuthHandler) ForgotPasswordForm(w http.ResponseWriter, _ *http.Request) {
	writeView(w, http.StatusOK, FormView{View: "forgot-password"}, "")
}

// ForgotPassword handles POST /forgot-password. The answer never reveals
// whether the address is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	writeView(w, http.StatusOK, FormView{View: "forgot-password"}, NoticePasswordReset)
}

// Session handles GET /api/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	view := SessionView{}
	if m, ok := managerFromContext(r.Context()); ok {
		st := m.Snapshot(r.Context())
		view.Authenticated = st.Authenticated
		view.Loading = st.Loading
		view.User = st.User
		if st.User != nil {
			view.Dashboard = st.User.DashboardPath()
		}
	}
	httputil.WriteData(w, view)
}

// Profile handles GET /profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	_, u, ok := currentUser(r)
	if !ok {
		httputil.Redirect(w, r, route.LoginPath(r.URL.RequestURI()))
		return
	}
	httputil.WriteData(w, ProfileView{View: "profile", User: u})
}

// protectedProfileFields are dropped from profile updates.
var protectedProfileFields = []string{"id", "role"}

// UpdateProfile handles PATCH /profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	m, ok := managerFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, errors.New("session middleware not mounted"), h.logger)
		return
	}

	var partial map[string]any
	r.Body = http.MaxBytesReader(w, r.Body, maxProfileBytes)
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		httputil.WriteValidationError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	// Identity and role are owned by the auth service, not the profile form.
	for _, key := range protectedProfileFields {
		delete(partial, key)
	}
	if len(partial) == 0 {
		httputil.WriteValidationError(w, errors.New("at least one profile field is required"))
		return
	}

	res := m.UpdateProfile(r.Context(), partial)
	if !res.Success {
		httputil.WriteJSON(w, statusForKind(res.Kind), httputil.Response{
			Error: &httputil.ErrorResponse{
				Code:      "PROFILE_UPDATE_FAILED",
				Message:   res.Error,
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			},
		})
		return
	}

	u, _ := m.CurrentUser()
	httputil.WriteData(w, ProfileView{View: "profile", User: u})
}
