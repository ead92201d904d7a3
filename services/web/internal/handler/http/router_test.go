package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TP-Master1-GL/TERRABIA/pkg/health"
	"github.com/TP-Master1-GL/TERRABIA/pkg/httpclient"
	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	pkgmiddleware "github.com/TP-Master1-GL/TERRABIA/pkg/middleware"
	"github.com/TP-Master1-GL/TERRABIA/pkg/pagination"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/api"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository/memory"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/session"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/token/tokentest"
)

// --- Mock Marketplace API ---

type mockMarketplace struct {
	mock.Mock
}

func (m *mockMarketplace) BuyerOrders(ctx context.Context, ts api.TokenSource, userID string, params pagination.Params) (pagination.Result[domain.Order], error) {
	args := m.Called(ctx, ts, userID, params)
	return args.Get(0).(pagination.Result[domain.Order]), args.Error(1)
}

func (m *mockMarketplace) FarmerOrders(ctx context.Context, ts api.TokenSource, userID string, params pagination.Params) (pagination.Result[domain.Order], error) {
	args := m.Called(ctx, ts, userID, params)
	return args.Get(0).(pagination.Result[domain.Order]), args.Error(1)
}

func (m *mockMarketplace) UpdateOrderStatus(ctx context.Context, ts api.TokenSource, orderID, status string) error {
	args := m.Called(ctx, ts, orderID, status)
	return args.Error(0)
}

func (m *mockMarketplace) CancelOrder(ctx context.Context, ts api.TokenSource, orderID, reason string) error {
	args := m.Called(ctx, ts, orderID, reason)
	return args.Error(0)
}

func (m *mockMarketplace) ProcessPayment(ctx context.Context, ts api.TokenSource, orderID string, p domain.Payment) error {
	args := m.Called(ctx, ts, orderID, p)
	return args.Error(0)
}

func (m *mockMarketplace) DashboardStats(ctx context.Context, ts api.TokenSource) (domain.DashboardStats, error) {
	args := m.Called(ctx, ts)
	return args.Get(0).(domain.DashboardStats), args.Error(1)
}

// --- Fake auth backend ---

const (
	cookieName   = "terrabia_session"
	testPassword = "secret123"
)

// backendRoles maps login emails to the backend role and user ID encoded in
// the issued access token.
var backendRoles = map[string][2]string{
	"buyer@terrabia.cm":  {"u-buyer", "acheteur"},
	"farmer@terrabia.cm": {"u-farmer", "vendeur"},
	"driver@terrabia.cm": {"u-driver", "livreur"},
}

type fakeBackend struct {
	t *testing.T

	mu        sync.Mutex
	logouts   int
	registers []map[string]any
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == api.PathLogin:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		who, ok := backendRoles[body["email"]]
		if !ok || body["password"] != testPassword {
			writeBackend(w, http.StatusUnauthorized, map[string]string{"error": "Identifiants invalides"})
			return
		}
		writeBackend(w, http.StatusOK, map[string]string{
			"accessToken":  tokentest.Valid(b.t, who[0], who[1]),
			"refreshToken": "refresh-" + who[0],
		})

	case r.Method == http.MethodPost && r.URL.Path == api.PathRegister:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.registers = append(b.registers, body)
		b.mu.Unlock()
		role, _ := body["role"].(string)
		writeBackend(w, http.StatusCreated, map[string]string{
			"access": tokentest.Valid(b.t, "u-new", role),
		})

	case r.Method == http.MethodPatch && r.URL.Path == api.PathProfile:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeBackend(w, http.StatusOK, body)

	case r.Method == http.MethodPost && r.URL.Path == api.PathLogout:
		b.mu.Lock()
		b.logouts++
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		writeBackend(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (b *fakeBackend) logoutCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logouts
}

func writeBackend(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- Test Helpers ---

type testEnv struct {
	router   http.Handler
	registry *session.Registry
	market   *mockMarketplace
	backend  *fakeBackend
}

type envOption func(*RouterConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		market:  new(mockMarketplace),
		backend: &fakeBackend{t: t},
	}

	srv := httptest.NewServer(env.backend)
	t.Cleanup(srv.Close)

	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = 2 * time.Second
	hcfg.MaxRetries = 0
	hc := httpclient.NewCircuitBreakerClient(httpclient.New(hcfg), httpclient.DefaultCircuitBreakerConfig(t.Name()), log)
	client := api.NewClient(srv.URL, hc, log)

	reg := session.NewRegistry(session.Deps{
		API:    client,
		Store:  memory.NewSessionStore(0),
		Logger: log,
	}, session.DefaultRegistryConfig())
	env.registry = reg

	cfg := RouterConfig{
		Registry:              reg,
		Marketplace:           env.market,
		Health:                health.NewHandler(),
		Cookie:                CookieConfig{Name: cookieName, MaxAge: time.Hour},
		CORS:                  pkgmiddleware.DefaultCORSConfig(),
		FormAttemptsPerMinute: 600,
		FormAttemptsBurst:     100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.router = NewRouter(cfg, log)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// login signs in and returns the session cookie.
func (e *testEnv) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/login", LoginRequest{Email: email, Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	return c
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

type envelope struct {
	Data   json.RawMessage         `json:"data"`
	Notice string                  `json:"notice"`
	Error  *httputil.ErrorResponse `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) (T, string) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out, env.Notice
}

type authAnswer struct {
	Success    bool           `json:"success"`
	User       map[string]any `json:"user"`
	RedirectTo string         `json:"redirectTo"`
	Error      string         `json:"error"`
	Kind       string         `json:"kind"`
	Location   string         `json:"location"`
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) authAnswer {
	t.Helper()
	var out authAnswer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type ordersPage struct {
	View   string `json:"view"`
	Role   string `json:"role"`
	Orders struct {
		Data []struct {
			ID      string   `json:"id"`
			Status  string   `json:"status"`
			Total   float64  `json:"total"`
			Actions []string `json:"actions"`
		} `json:"data"`
		TotalCount int `json:"total_count"`
	} `json:"orders"`
}

func orderPage(orders ...domain.Order) pagination.Result[domain.Order] {
	return pagination.NewResult(orders, len(orders), pagination.DefaultParams(), false)
}

// ============================================================================
// Ops and public pages
// ============================================================================

func TestRouter_HealthLive(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/live", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_MetricsRestricted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_LandingIsCacheableWithoutSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, sessionCookie(t, rec))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, 0, env.registry.Len())

	page, _ := decodeData[PageView](t, rec)
	assert.Equal(t, "landing", page.View)
}

func TestRouter_CachedPagesIgnoreSessionCookie(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	for _, path := range []string{"/marketplace", "/product/42"} {
		rec := env.do(t, http.MethodGet, path, nil, c)

		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Nil(t, sessionCookie(t, rec), path)
		assert.Contains(t, rec.Header().Get("Cache-Control"), "public", path)
	}
}

func TestRouter_FormPageIssuesSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/login", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.NotEmpty(t, c.Value)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRouter_KeepsValidSessionCookie(t *testing.T) {
	env := newTestEnv(t)
	first := sessionCookie(t, env.do(t, http.MethodGet, "/login", nil, nil))
	require.NotNil(t, first)

	rec := env.do(t, http.MethodGet, "/login", nil, first)

	second := sessionCookie(t, rec)
	require.NotNil(t, second)
	assert.Equal(t, first.Value, second.Value)
}

func TestRouter_ReplacesMalformedSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/login", nil, &http.Cookie{Name: cookieName, Value: "not-a-uuid"})

	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	assert.NotEqual(t, "not-a-uuid", c.Value)
}

func TestRouter_ProductPage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/product/42", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	page, _ := decodeData[PageView](t, rec)
	assert.Equal(t, "product", page.View)
	assert.Equal(t, "42", page.ID)
}

func TestRouter_UnknownPathRedirectsHome(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/no/such/page", nil, nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("email=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// Login, registration, logout
// ============================================================================

func TestLogin_RedirectsToRoleDashboard(t *testing.T) {
	tests := []struct {
		email    string
		role     string
		location string
	}{
		{"buyer@terrabia.cm", "buyer", domain.PathBuyerDashboard},
		{"farmer@terrabia.cm", "farmer", domain.PathFarmerDashboard},
		{"driver@terrabia.cm", "driver", domain.PathDriverDashboard},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/login", LoginRequest{Email: tt.email, Password: testPassword}, nil)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			res := decodeAuth(t, rec)
			assert.True(t, res.Success)
			assert.Equal(t, tt.location, res.RedirectTo)
			assert.Equal(t, tt.location, res.Location)
			assert.Equal(t, tt.role, res.User["role"])
			assert.Equal(t, tt.email, res.User["email"])
			assert.NotNil(t, sessionCookie(t, rec))
		})
	}
}

func TestLogin_NextPathWins(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/login",
		LoginRequest{Email: "buyer@terrabia.cm", Password: testPassword, Next: "/orders?page=2"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeAuth(t, rec)
	assert.Equal(t, "/orders?page=2", res.Location)
	assert.Equal(t, domain.PathBuyerDashboard, res.RedirectTo)
}

func TestLogin_ForeignNextIgnored(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/login",
		LoginRequest{Email: "buyer@terrabia.cm", Password: testPassword, Next: "//evil.example/"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PathBuyerDashboard, decodeAuth(t, rec).Location)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/login", LoginRequest{Email: "buyer@terrabia.cm", Password: "wrong-password"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	res := decodeAuth(t, rec)
	assert.False(t, res.Success)
	assert.Equal(t, "Identifiants invalides", res.Error)
	assert.Equal(t, string(domain.KindAuth), res.Kind)
	assert.Nil(t, res.User)

	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	state := env.do(t, http.MethodGet, "/api/session", nil, c)
	view, _ := decodeData[SessionView](t, state)
	assert.False(t, view.Authenticated)
}

func TestLogin_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/login", map[string]string{"email": "buyer@terrabia.cm"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeEnvelope(t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}

func TestLoginForm_KeepsLocalNext(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/login?next=%2Forders", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	form, _ := decodeData[FormView](t, rec)
	assert.Equal(t, "login", form.View)
	assert.Equal(t, "/orders", form.Next)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRegister_DefaultsToBuyer(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/register", RegisterRequest{
		Email:    "awa@terrabia.cm",
		Password: testPassword,
		Phone:    "+237600000000",
		Location: "Douala",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeAuth(t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "buyer", res.User["role"])
	assert.Equal(t, domain.PathBuyerDashboard, res.Location)

	require.Len(t, env.backend.registers, 1)
	sent := env.backend.registers[0]
	assert.Equal(t, domain.BackendRoleBuyer, sent["role"])
	assert.Equal(t, "awa", sent["username"])
	assert.Equal(t, "+237600000000", sent["phone_number"])
	assert.Equal(t, "+237600000000", sent["phone"])
	assert.Equal(t, "Douala", sent["address"])
	assert.Equal(t, "Douala", sent["location"])
}

func TestRegister_FarmerRole(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/register", RegisterRequest{
		Email:    "paul@terrabia.cm",
		Password: testPassword,
		Name:     "Paul",
		Role:     "farmer",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.PathFarmerDashboard, decodeAuth(t, rec).Location)
	require.Len(t, env.backend.registers, 1)
	assert.Equal(t, domain.BackendRoleFarmer, env.backend.registers[0]["role"])
}

func TestLogout_ClearsSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	rec := env.do(t, http.MethodPost, "/logout", nil, c)

	require.Equal(t, http.StatusOK, rec.Code)
	loc, _ := decodeData[LocationView](t, rec)
	assert.Equal(t, "/login", loc.Location)
	assert.Equal(t, 1, env.backend.logoutCount())

	view, _ := decodeData[SessionView](t, env.do(t, http.MethodGet, "/api/session", nil, c))
	assert.False(t, view.Authenticated)
	assert.Nil(t, view.User)

	orders := env.do(t, http.MethodGet, "/orders", nil, c)
	assert.Equal(t, http.StatusSeeOther, orders.Code)
}

func TestForgotPassword_NeutralNotice(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/forgot-password", ForgotPasswordRequest{Email: "nobody@terrabia.cm"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	_, notice := decodeData[FormView](t, rec)
	assert.Equal(t, NoticePasswordReset, notice)
}

func TestFormAttempts_RateLimitsLogin(t *testing.T) {
	env := newTestEnv(t, func(cfg *RouterConfig) {
		cfg.FormAttemptsPerMinute = 1
		cfg.FormAttemptsBurst = 1
	})
	body := LoginRequest{Email: "buyer@terrabia.cm", Password: "wrong-password"}

	first := env.do(t, http.MethodPost, "/login", body, nil)
	second := env.do(t, http.MethodPost, "/login", body, nil)

	assert.Equal(t, http.StatusUnauthorized, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	form := env.do(t, http.MethodGet, "/login", nil, nil)
	assert.Equal(t, http.StatusOK, form.Code)
}

// ============================================================================
// Session and profile
// ============================================================================

func TestSession_Authenticated(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "farmer@terrabia.cm")

	rec := env.do(t, http.MethodGet, "/api/session", nil, c)

	require.Equal(t, http.StatusOK, rec.Code)
	view, _ := decodeData[SessionView](t, rec)
	assert.True(t, view.Authenticated)
	assert.False(t, view.Loading)
	require.NotNil(t, view.User)
	assert.Equal(t, domain.RoleFarmer, view.User.Role)
	assert.Equal(t, "u-farmer", view.User.ID)
	assert.Equal(t, domain.PathFarmerDashboard, view.Dashboard)
}

func TestProfile_RequiresLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/profile", nil, nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fprofile", rec.Header().Get("Location"))
}

func TestProfile_UpdateMergesAnswer(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	rec := env.do(t, http.MethodPatch, "/profile", map[string]any{"name": "Awa", "location": "Yaoundé"}, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view, _ := decodeData[ProfileView](t, rec)
	assert.Equal(t, "Awa", view.User.Name)
	assert.Equal(t, "Yaoundé", view.User.Location)
	assert.Equal(t, domain.RoleBuyer, view.User.Role)

	got, _ := decodeData[ProfileView](t, env.do(t, http.MethodGet, "/profile", nil, c))
	assert.Equal(t, "Awa", got.User.Name)
}

func TestProfile_UpdateCannotChangeRoleOrID(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	rec := env.do(t, http.MethodPatch, "/profile", map[string]any{"name": "Awa", "role": "admin", "id": "u-admin"}, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view, _ := decodeData[ProfileView](t, rec)
	assert.Equal(t, domain.RoleBuyer, view.User.Role)
	assert.Equal(t, "u-buyer", view.User.ID)
	assert.Equal(t, "Awa", view.User.Name)

	admin := env.do(t, http.MethodGet, "/admin/dashboard", nil, c)
	assert.Equal(t, http.StatusSeeOther, admin.Code)
	assert.Equal(t, domain.PathBuyerDashboard, admin.Header().Get("Location"))
}

func TestProfile_UpdateWithOnlyProtectedFieldsRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	rec := env.do(t, http.MethodPatch, "/profile", map[string]any{"role": "admin"}, c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfile_UpdateRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	rec := env.do(t, http.MethodPatch, "/profile", map[string]any{}, c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Route gating
// ============================================================================

func TestOrders_AnonymousRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/orders", nil, nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Forders", rec.Header().Get("Location"))
}

func TestOrders_DriverRedirectedToOwnDashboard(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "driver@terrabia.cm")

	rec := env.do(t, http.MethodGet, "/orders", nil, c)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, domain.PathDriverDashboard, rec.Header().Get("Location"))
}

func TestFarmerPages_BuyerRedirected(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	for _, path := range []string{"/farmer/dashboard", "/farmer/products/new", "/orders/7/ship"} {
		rec := env.do(t, http.MethodGet, path, nil, c)
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, domain.PathBuyerDashboard, rec.Header().Get("Location"), path)
	}
}

func TestCheckout_BuyerOnly(t *testing.T) {
	env := newTestEnv(t)

	buyer := env.do(t, http.MethodGet, "/checkout", nil, env.login(t, "buyer@terrabia.cm"))
	farmer := env.do(t, http.MethodGet, "/checkout", nil, env.login(t, "farmer@terrabia.cm"))

	assert.Equal(t, http.StatusOK, buyer.Code)
	assert.Equal(t, http.StatusSeeOther, farmer.Code)
	assert.Equal(t, domain.PathFarmerDashboard, farmer.Header().Get("Location"))
}

func TestDashboard_RedirectsToOwnDashboard(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "driver@terrabia.cm")

	rec := env.do(t, http.MethodGet, "/dashboard", nil, c)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, domain.PathDriverDashboard, rec.Header().Get("Location"))
}

func TestProxy_RequiresSessionAndInjectsToken(t *testing.T) {
	var seen string
	env := newTestEnv(t, func(cfg *RouterConfig) {
		cfg.Proxy = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, _ := SessionToken(r)
			seen = tok
			w.WriteHeader(http.StatusNoContent)
		})
	})

	anon := env.do(t, http.MethodGet, "/api/proxy/products", nil, nil)
	assert.Equal(t, http.StatusSeeOther, anon.Code)
	assert.Empty(t, seen)

	rec := env.do(t, http.MethodGet, "/api/proxy/products", nil, env.login(t, "buyer@terrabia.cm"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, seen)
}

// ============================================================================
// Orders page
// ============================================================================

func TestOrders_FarmerSeesReceivedOrders(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "farmer@terrabia.cm")
	env.market.On("FarmerOrders", mock.Anything, mock.Anything, "u-farmer", pagination.Params{Page: 2, PageSize: 5}).
		Return(orderPage(
			domain.Order{ID: "7", Status: domain.OrderStatusPending, TotalAmount: 1500},
			domain.Order{ID: "8", Status: domain.OrderStatusPaid, TotalAmount: 900},
		), nil)

	rec := env.do(t, http.MethodGet, "/orders?page=2&page_size=5", nil, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page, notice := decodeData[ordersPage](t, rec)
	assert.Empty(t, notice)
	assert.Equal(t, "farmer", page.Role)
	require.Len(t, page.Orders.Data, 2)
	assert.Equal(t, []string{"confirm", "cancel"}, page.Orders.Data[0].Actions)
	assert.Equal(t, 1500.0, page.Orders.Data[0].Total)
	assert.Equal(t, []string{"ship"}, page.Orders.Data[1].Actions)
	env.market.AssertNotCalled(t, "BuyerOrders", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrders_BuyerLoadFailureShowsNotice(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")
	env.market.On("BuyerOrders", mock.Anything, mock.Anything, "u-buyer", mock.Anything).
		Return(pagination.Result[domain.Order]{}, &httpclient.ResponseError{Status: http.StatusBadGateway})

	rec := env.do(t, http.MethodGet, "/orders", nil, c)

	require.Equal(t, http.StatusOK, rec.Code)
	page, notice := decodeData[ordersPage](t, rec)
	assert.Equal(t, NoticeOrdersUnavailable, notice)
	assert.Empty(t, page.Orders.Data)
}

func TestOrders_ConfirmUpdatesStatusAndReloads(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "farmer@terrabia.cm")
	env.market.On("UpdateOrderStatus", mock.Anything, mock.Anything, "7", domain.OrderStatusConfirmed).Return(nil).Once()
	env.market.On("FarmerOrders", mock.Anything, mock.Anything, "u-farmer", mock.Anything).
		Return(orderPage(domain.Order{ID: "7", Status: domain.OrderStatusConfirmed}), nil).Once()

	rec := env.do(t, http.MethodPost, "/orders/7/confirm", nil, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page, notice := decodeData[ordersPage](t, rec)
	assert.Equal(t, NoticeActionDone, notice)
	require.Len(t, page.Orders.Data, 1)
	assert.Equal(t, domain.OrderStatusConfirmed, page.Orders.Data[0].Status)
	assert.Empty(t, page.Orders.Data[0].Actions)
	env.market.AssertExpectations(t)
}

func TestOrders_CancelRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "farmer@terrabia.cm")

	rec := env.do(t, http.MethodPost, "/orders/7/cancel", map[string]string{}, c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env.market.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrders_CancelSendsReason(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "farmer@terrabia.cm")
	env.market.On("CancelOrder", mock.Anything, mock.Anything, "7", "Stock épuisé").Return(nil).Once()
	env.market.On("FarmerOrders", mock.Anything, mock.Anything, "u-farmer", mock.Anything).
		Return(orderPage(domain.Order{ID: "7", Status: domain.OrderStatusCancelled}), nil)

	rec := env.do(t, http.MethodPost, "/orders/7/cancel", CancelOrderRequest{Reason: "  Stock épuisé "}, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.market.AssertExpectations(t)
}

func TestOrders_PaymentFailureKeepsSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")
	env.market.On("ProcessPayment", mock.Anything, mock.Anything, "9", domain.NewMobileMoneyPayment("u-buyer")).
		Return(&httpclient.ResponseError{Status: http.StatusBadRequest, ErrorText: "Solde insuffisant"})
	env.market.On("BuyerOrders", mock.Anything, mock.Anything, "u-buyer", mock.Anything).
		Return(orderPage(domain.Order{ID: "9", Status: domain.OrderStatusConfirmed}), nil)

	rec := env.do(t, http.MethodPost, "/orders/9/pay", nil, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page, notice := decodeData[ordersPage](t, rec)
	assert.Contains(t, notice, "Solde insuffisant")
	require.Len(t, page.Orders.Data, 1)
	assert.Equal(t, []string{"pay"}, page.Orders.Data[0].Actions)

	view, _ := decodeData[SessionView](t, env.do(t, http.MethodGet, "/api/session", nil, c))
	assert.True(t, view.Authenticated)
}

func TestOrders_ActionNotAllowedForRole(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")

	for _, action := range []string{"confirm", "deliver", "cancel", "ship", "refund"} {
		rec := env.do(t, http.MethodPost, "/orders/7/"+action, nil, c)
		assert.Equal(t, http.StatusForbidden, rec.Code, action)
	}
	env.market.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrders_ShipForm(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "farmer@terrabia.cm")

	rec := env.do(t, http.MethodGet, "/orders/7/ship", nil, c)

	require.Equal(t, http.StatusOK, rec.Code)
	view, _ := decodeData[ShipOrderView](t, rec)
	assert.Equal(t, "7", view.OrderID)
}

// ============================================================================
// Dashboards
// ============================================================================

type dashboardPage struct {
	View         string                `json:"view"`
	Stats        domain.DashboardStats `json:"stats"`
	RecentOrders []struct {
		ID string `json:"id"`
	} `json:"recentOrders"`
}

func TestBuyerDashboard_RecentOrdersAndZeroStats(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "buyer@terrabia.cm")
	env.market.On("DashboardStats", mock.Anything, mock.Anything).
		Return(domain.DashboardStats{}, &api.TransportError{Op: "GET /analytics/dashboard", Err: context.DeadlineExceeded})
	env.market.On("BuyerOrders", mock.Anything, mock.Anything, "u-buyer", pagination.Params{Page: 1, PageSize: buyerRecentOrders}).
		Return(orderPage(
			domain.Order{ID: "1"}, domain.Order{ID: "2"}, domain.Order{ID: "3"}, domain.Order{ID: "4"},
		), nil)

	rec := env.do(t, http.MethodGet, "/buyer/dashboard", nil, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page, notice := decodeData[dashboardPage](t, rec)
	assert.Empty(t, notice)
	assert.Equal(t, "buyer-dashboard", page.View)
	assert.Equal(t, domain.DashboardStats{}, page.Stats)
	require.Len(t, page.RecentOrders, 3)
	assert.Equal(t, "1", page.RecentOrders[0].ID)
}

func TestFarmerDashboard_Stats(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "farmer@terrabia.cm")
	stats := domain.DashboardStats{TotalOrders: 12, PendingOrders: 2, TotalSpent: 45000}
	env.market.On("DashboardStats", mock.Anything, mock.Anything).Return(stats, nil)
	env.market.On("FarmerOrders", mock.Anything, mock.Anything, "u-farmer", mock.Anything).
		Return(pagination.Result[domain.Order]{}, &httpclient.ResponseError{Status: http.StatusServiceUnavailable})

	rec := env.do(t, http.MethodGet, "/farmer/dashboard", nil, c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page, notice := decodeData[dashboardPage](t, rec)
	assert.Equal(t, NoticeOrdersUnavailable, notice)
	assert.Equal(t, stats, page.Stats)
	assert.Empty(t, page.RecentOrders)
}

func TestDriverDashboard_StatsOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "driver@terrabia.cm")
	env.market.On("DashboardStats", mock.Anything, mock.Anything).Return(domain.DashboardStats{TotalOrders: 3}, nil)

	rec := env.do(t, http.MethodGet, "/driver/dashboard", nil, c)

	require.Equal(t, http.StatusOK, rec.Code)
	page, _ := decodeData[dashboardPage](t, rec)
	assert.Equal(t, 3, page.Stats.TotalOrders)
	env.market.AssertNotCalled(t, "BuyerOrders", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.market.AssertNotCalled(t, "FarmerOrders", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
