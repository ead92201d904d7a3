package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/api"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/token"
)

// User-facing messages.
const (
	FallbackLoginError    = "Email ou mot de passe incorrect"
	FallbackRegisterError = "Erreur d'inscription"
	FallbackUpdateError   = "Erreur lors de la mise à jour du profil"

	msgBusy             = "Une opération d'authentification est déjà en cours"
	msgSuperseded       = "La session a été fermée pendant l'opération"
	msgNotAuthenticated = "Vous devez être connecté"
	msgStorage          = "Impossible d'enregistrer la session, réessayez"
)

var (
	// ErrNoRefreshToken is returned by RefreshAccessToken when none is stored.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrSuperseded is returned when a logout ended the session while an
	// operation was in flight.
	ErrSuperseded = errors.New("operation superseded by logout")
)

// AuthAPI is the part of the marketplace API the session depends on.
type AuthAPI interface {
	Login(ctx context.Context, creds api.Credentials) (api.AuthPayload, error)
	Register(ctx context.Context, reg api.Registration) (api.AuthPayload, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Profile(ctx context.Context, ts api.TokenSource) (domain.User, error)
	UpdateProfile(ctx context.Context, ts api.TokenSource, partial map[string]any) (map[string]any, error)
	Logout(ctx context.Context, ts api.TokenSource) error
}

// EventPublisher receives session lifecycle notifications.
type EventPublisher interface {
	PublishSessionStarted(ctx context.Context, sessionID, method string, u domain.User) error
	PublishSessionEnded(ctx context.Context, sessionID, userID string) error
}

// Deps are the collaborators shared by every Manager.
type Deps struct {
	API          AuthAPI
	Store        repository.SessionStore
	Events       EventPublisher
	Logger       *slog.Logger
	TokenOptions []token.Option
}

// Credentials is a login form.
type Credentials struct {
	Email    string
	Password string
}

// Registration is a signup form in web client vocabulary.
type Registration struct {
	Email    string
	Password string
	Name     string
	Role     string
	Phone    string
	Location string
}

// AuthResult is the outcome of Login and Register. It never carries a Go
// error: failures are reported through Error.
type AuthResult struct {
	Success    bool             `json:"success"`
	User       *domain.User     `json:"user,omitempty"`
	RedirectTo string           `json:"redirectTo,omitempty"`
	Error      string           `json:"error,omitempty"`
	Kind       domain.ErrorKind `json:"kind,omitempty"`
}

// UpdateResult is the outcome of UpdateProfile.
type UpdateResult struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Kind    domain.ErrorKind `json:"kind,omitempty"`
}

// State is a point-in-time view of a session.
type State struct {
	User          *domain.User
	Loading       bool
	Authenticated bool
}

// Manager owns the authentication state of one browser session. Auth
// operations are serialized; Logout bypasses the queue and supersedes any
// operation in flight.
type Manager struct {
	id     string
	api    AuthAPI
	tokens *token.Store
	ns     repository.Namespace
	events EventPublisher
	logger *slog.Logger

	// opMu serializes restore, login, register, refresh and profile updates.
	opMu sync.Mutex

	mu         sync.RWMutex
	user       *domain.User
	loading    bool
	generation uint64

	restoreOnce sync.Once
	restored    chan struct{}
}

// NewManager creates the manager of one browser session. The session is
// loading until Restore has run.
func NewManager(id string, deps Deps) *Manager {
	ns := repository.NewNamespace(deps.Store, id)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		id:       id,
		api:      deps.API,
		tokens:   token.NewStore(ns, deps.TokenOptions...),
		ns:       ns,
		events:   deps.Events,
		logger:   log,
		loading:  true,
		restored: make(chan struct{}),
	}
}

// ID returns the browser session ID.
func (m *Manager) ID() string {
	return m.id
}

// Tokens exposes the token store for authenticated API calls.
func (m *Manager) Tokens() *token.Store {
	return m.tokens
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// CurrentUser returns a copy of the current user.
func (m *Manager) CurrentUser() (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return domain.User{}, false
	}
	return m.user.Normalized(), true
}

// Loading reports whether an auth operation is in flight.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// IsAuthenticated is true when a user is installed and the stored access
// token is valid. Both are checked on every call.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	if _, ok := m.CurrentUser(); !ok {
		return false
	}
	return m.tokens.IsValid(ctx)
}

// Snapshot returns the current state.
func (m *Manager) Snapshot(ctx context.Context) State {
	m.mu.RLock()
	var u *domain.User
	if m.user != nil {
		c := m.user.Normalized()
		u = &c
	}
	loading := m.loading
	m.mu.RUnlock()

	return State{
		User:          u,
		Loading:       loading,
		Authenticated: u != nil && m.tokens.IsValid(ctx),
	}
}

// WaitRestored blocks until Restore completed, ctx is done or wait elapsed.
// It reports whether Restore completed.
func (m *Manager) WaitRestored(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-m.restored:
		return true
	case <-ctx.Done():
	case <-timer.C:
	}

	select {
	case <-m.restored:
		return true
	default:
		return false
	}
}

func (m *Manager) beginLoading() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = true
	return m.generation
}

func (m *Manager) endLoading() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(logger.WithSessionID(ctx, m.id), m.logger)
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore installs the user of a previously stored, still valid access token.
// Any failure while fetching the profile ends in a full local logout. Only
// the first call does anything.
func (m *Manager) Restore(ctx context.Context) {
	m.restoreOnce.Do(func() {
		defer close(m.restored)
		m.restore(ctx)
	})
}

func (m *Manager) restore(ctx context.Context) {
	start := time.Now()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	gen := m.beginLoading()
	defer m.endLoading()

	tok, ok, err := m.tokens.Get(ctx)
	if err != nil {
		m.log(ctx).WarnContext(ctx, "reading stored token failed, starting anonymous", slog.String("error", err.Error()))
		observe(opRestore, outcomeFailure, start)
		return
	}
	if !ok || !m.tokens.Valid(tok) {
		observe(opRestore, outcomeAnonymous, start)
		return
	}

	profile, err := m.api.Profile(ctx, m.tokens)
	if err != nil {
		m.log(ctx).WarnContext(ctx, "session restore failed, logging out",
			slog.String("kind", string(domain.Classify(err))),
			slog.String("error", err.Error()),
		)
		m.clearLocal(ctx, gen)
		observe(opRestore, outcomeFailure, start)
		return
	}

	u := profile.Normalized()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		observe(opRestore, outcomeSuperseded, start)
		return
	}
	if err := m.persistUser(ctx, u); err != nil {
		m.log(ctx).WarnContext(ctx, "persisting restored user failed", slog.String("error", err.Error()))
	}
	m.user = &u
	observe(opRestore, outcomeSuccess, start)
}

// clearLocal drops the user and every stored key unless gen is stale.
func (m *Manager) clearLocal(ctx context.Context, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.generation++
	m.user = nil
	if err := m.tokens.Clear(ctx); err != nil {
		m.log(ctx).ErrorContext(ctx, "clearing session storage failed", slog.String("error", err.Error()))
	}
}

// ---------------------------------------------------------------------------
// Login / Register
// ---------------------------------------------------------------------------

// Login authenticates with email and password.
func (m *Manager) Login(ctx context.Context, creds Credentials) AuthResult {
	call := func(ctx context.Context) (api.AuthPayload, error) {
		return m.api.Login(ctx, api.Credentials{Email: creds.Email, Password: creds.Password})
	}
	synth := func(p api.AuthPayload, claims *token.Claims) domain.User {
		role := firstNonEmpty(p.Role, claims.Role, domain.BackendRoleBuyer)
		return domain.NewUser(firstNonEmpty(p.ID, claims.UserID), creds.Email, "", role)
	}
	return m.authenticate(ctx, opLogin, FallbackLoginError, call, synth)
}

// Register creates an account and signs it in. An empty role registers a
// buyer.
func (m *Manager) Register(ctx context.Context, reg Registration) AuthResult {
	username := reg.Name
	if username == "" {
		username, _, _ = strings.Cut(reg.Email, "@")
	}
	backendRole := domain.BackendRole(reg.Role)

	body := api.Registration{
		Email:       reg.Email,
		Password:    reg.Password,
		Username:    username,
		FullName:    reg.Name,
		Role:        backendRole,
		PhoneNumber: reg.Phone,
		Phone:       reg.Phone,
		Address:     reg.Location,
		Location:    reg.Location,
	}

	call := func(ctx context.Context) (api.AuthPayload, error) {
		return m.api.Register(ctx, body)
	}
	synth := func(p api.AuthPayload, claims *token.Claims) domain.User {
		u := domain.NewUser(firstNonEmpty(p.ID, claims.UserID), reg.Email, username, backendRole)
		u.Phone = reg.Phone
		u.Location = reg.Location
		return u
	}
	return m.authenticate(ctx, opRegister, FallbackRegisterError, call, synth)
}

func (m *Manager) authenticate(
	ctx context.Context,
	op, fallback string,
	call func(context.Context) (api.AuthPayload, error),
	synth func(api.AuthPayload, *token.Claims) domain.User,
) AuthResult {
	start := time.Now()
	if !m.opMu.TryLock() {
		observe(op, outcomeBusy, start)
		return AuthResult{Error: msgBusy}
	}
	defer m.opMu.Unlock()

	gen := m.beginLoading()
	defer m.endLoading()

	payload, err := call(ctx)
	if err != nil {
		kind := domain.Classify(err)
		m.log(ctx).InfoContext(ctx, op+" failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		observe(op, outcomeFailure, start)
		return AuthResult{Error: messageOr(err, fallback), Kind: kind}
	}

	var u domain.User
	if payload.User != nil {
		u = *payload.User
	} else {
		claims, cerr := token.ParseClaims(payload.AccessToken)
		if cerr != nil {
			claims = &token.Claims{}
		}
		u = synth(payload, claims)
	}
	u = u.Normalized()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		observe(op, outcomeSuperseded, start)
		return AuthResult{Error: msgSuperseded}
	}
	if err := m.install(ctx, payload, u); err != nil {
		m.mu.Unlock()
		m.log(ctx).ErrorContext(ctx, op+" could not persist session", slog.String("error", err.Error()))
		observe(op, outcomeFailure, start)
		return AuthResult{Error: msgStorage, Kind: domain.KindServer}
	}
	m.user = &u
	m.mu.Unlock()

	m.publishStarted(ctx, op, u)
	observe(op, outcomeSuccess, start)

	installed := u
	return AuthResult{
		Success:    true,
		User:       &installed,
		RedirectTo: domain.DashboardPath(u.Role),
	}
}

// install writes tokens and the user snapshot. The caller holds m.mu.
func (m *Manager) install(ctx context.Context, p api.AuthPayload, u domain.User) error {
	if p.AccessToken != "" {
		if err := m.tokens.Set(ctx, p.AccessToken); err != nil {
			return err
		}
	}
	if p.RefreshToken != "" {
		if err := m.tokens.SetRefreshToken(ctx, p.RefreshToken); err != nil {
			return err
		}
	}
	return m.persistUser(ctx, u)
}

func (m *Manager) persistUser(ctx context.Context, u domain.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user snapshot: %w", err)
	}
	if err := m.ns.Set(ctx, repository.KeyUser, string(data)); err != nil {
		return fmt.Errorf("persist user snapshot: %w", err)
	}
	return nil
}

// StoredUser reads the persisted user snapshot. A missing or corrupt snapshot
// reports false.
func (m *Manager) StoredUser(ctx context.Context) (domain.User, bool) {
	raw, ok, err := m.ns.Get(ctx, repository.KeyUser)
	if err != nil || !ok {
		return domain.User{}, false
	}
	var u domain.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		m.log(ctx).WarnContext(ctx, "ignoring corrupt user snapshot", slog.String("error", err.Error()))
		return domain.User{}, false
	}
	return u.Normalized(), true
}

// ---------------------------------------------------------------------------
// Logout
// ---------------------------------------------------------------------------

// Logout ends the session. Local state is always cleared; the remote call is
// best effort and its failure is only logged. The returned error reports a
// failure to clear local storage.
func (m *Manager) Logout(ctx context.Context) error {
	start := time.Now()

	m.mu.Lock()
	m.generation++
	var userID string
	if m.user != nil {
		userID = m.user.ID
	}
	m.user = nil
	m.loading = false

	tok, hasToken, _ := m.tokens.Get(ctx)
	clearErr := m.tokens.Clear(ctx)
	m.mu.Unlock()

	if hasToken {
		if err := m.api.Logout(ctx, staticToken(tok)); err != nil {
			m.log(ctx).WarnContext(ctx, "remote logout failed", slog.String("error", err.Error()))
		}
	}

	if userID != "" {
		m.publishEnded(ctx, userID)
	}

	if clearErr != nil {
		m.log(ctx).ErrorContext(ctx, "clearing session storage failed", slog.String("error", clearErr.Error()))
		observe(opLogout, outcomeFailure, start)
		return clearErr
	}
	observe(opLogout, outcomeSuccess, start)
	return nil
}

// staticToken serves a token captured before local storage was cleared.
type staticToken string

func (t staticToken) Get(context.Context) (string, bool, error) {
	return string(t), t != "", nil
}

// ---------------------------------------------------------------------------
// Refresh / UpdateProfile
// ---------------------------------------------------------------------------

// RefreshAccessToken exchanges the stored refresh token for a new access
// token. Any failure logs the session out.
func (m *Manager) RefreshAccessToken(ctx context.Context) error {
	start := time.Now()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	gen := m.beginLoading()
	defer m.endLoading()

	rt, ok, err := m.tokens.RefreshToken(ctx)
	if err == nil && !ok {
		err = ErrNoRefreshToken
	}
	if err != nil {
		_ = m.Logout(ctx)
		observe(opRefresh, outcomeFailure, start)
		return fmt.Errorf("refresh access token: %w", err)
	}

	access, err := m.api.Refresh(ctx, rt)
	if err != nil {
		m.log(ctx).InfoContext(ctx, "token refresh failed, logging out", slog.String("error", err.Error()))
		_ = m.Logout(ctx)
		observe(opRefresh, outcomeFailure, start)
		return fmt.Errorf("refresh access token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		observe(opRefresh, outcomeSuperseded, start)
		return ErrSuperseded
	}
	if err := m.tokens.Set(ctx, access); err != nil {
		observe(opRefresh, outcomeFailure, start)
		return fmt.Errorf("refresh access token: %w", err)
	}
	observe(opRefresh, outcomeSuccess, start)
	return nil
}

// EnsureFresh refreshes the access token when a user is installed but the
// token is no longer valid.
func (m *Manager) EnsureFresh(ctx context.Context) {
	if _, ok := m.CurrentUser(); !ok || m.tokens.IsValid(ctx) {
		return
	}
	if err := m.RefreshAccessToken(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		m.log(ctx).InfoContext(ctx, "expired session could not be refreshed", slog.String("error", err.Error()))
	}
}

// UpdateProfile sends a partial profile update and merges the answer over
// the current user. The merged role is normalized again.
func (m *Manager) UpdateProfile(ctx context.Context, partial map[string]any) UpdateResult {
	start := time.Now()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	current := m.user
	gen := m.generation
	m.mu.RUnlock()

	if current == nil {
		observe(opUpdate, outcomeFailure, start)
		return UpdateResult{Error: msgNotAuthenticated, Kind: domain.KindAuth}
	}

	answer, err := m.api.UpdateProfile(ctx, m.tokens, partial)
	if err != nil {
		observe(opUpdate, outcomeFailure, start)
		return UpdateResult{Error: messageOr(err, FallbackUpdateError), Kind: domain.Classify(err)}
	}

	merged, err := current.Merge(answer)
	if err != nil {
		observe(opUpdate, outcomeFailure, start)
		return UpdateResult{Error: FallbackUpdateError, Kind: domain.KindServer}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		observe(opUpdate, outcomeSuperseded, start)
		return UpdateResult{Error: msgSuperseded}
	}
	if err := m.persistUser(ctx, merged); err != nil {
		m.log(ctx).ErrorContext(ctx, "persisting updated profile failed", slog.String("error", err.Error()))
		observe(opUpdate, outcomeFailure, start)
		return UpdateResult{Error: msgStorage, Kind: domain.KindServer}
	}
	m.user = &merged
	observe(opUpdate, outcomeSuccess, start)
	return UpdateResult{Success: true}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (m *Manager) publishStarted(ctx context.Context, method string, u domain.User) {
	if m.events == nil {
		return
	}
	if err := m.events.PublishSessionStarted(ctx, m.id, method, u); err != nil {
		m.log(ctx).WarnContext(ctx, "publishing session started event failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) publishEnded(ctx context.Context, userID string) {
	if m.events == nil {
		return
	}
	if err := m.events.PublishSessionEnded(ctx, m.id, userID); err != nil {
		m.log(ctx).WarnContext(ctx, "publishing session ended event failed", slog.String("error", err.Error()))
	}
}

func messageOr(err error, fallback string) string {
	if msg := api.Message(err); msg != "" {
		return msg
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
