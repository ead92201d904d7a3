package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TP-Master1-GL/TERRABIA/pkg/health"
	pkgmiddleware "github.com/TP-Master1-GL/TERRABIA/pkg/middleware"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
	webmiddleware "github.com/TP-Master1-GL/TERRABIA/services/web/internal/middleware"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/route"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/session"
)

// ServiceName labels the web client's metrics and spans.
const ServiceName = "web"

// publicMaxAge is the Cache-Control max-age of the anonymous pages.
const publicMaxAge = 300

// RouterConfig carries the dependencies of NewRouter.
type RouterConfig struct {
	Registry    *session.Registry
	Marketplace MarketplaceAPI
	// Proxy serves /api/proxy/*. The passthrough is not mounted when nil.
	Proxy  http.Handler
	Health *health.Handler
	Cookie CookieConfig
	CORS   pkgmiddleware.CORSConfig

	FormAttemptsPerMinute int
	FormAttemptsBurst     int
	// TrustedProxyCIDRs are the peers whose X-Forwarded-For is believed.
	TrustedProxyCIDRs []string

	MetricsAllowedCIDRs []string
	PprofAllowedCIDRs   []string
}

// NewRouter creates a chi router with the web client's pages, session
// middleware and route gating.
func NewRouter(cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(pkgmiddleware.Recovery(logger))
	r.Use(pkgmiddleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(pkgmiddleware.RequestLogging(logger))
	r.Use(pkgmiddleware.PrometheusMetrics(ServiceName))
	r.Use(pkgmiddleware.Tracing(ServiceName))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())

	// Metrics endpoint with IP allowlist protection.
	r.With(pkgmiddleware.IPAllowlist(cfg.MetricsAllowedCIDRs, logger)).Handle("/metrics", promhttp.Handler())

	// Pprof debug endpoints with IP allowlist.
	pkgmiddleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	pages := NewPageHandler()
	authHandler := NewAuthHandler(logger)
	orderHandler := NewOrderHandler(cfg.Marketplace, logger)
	dashboardHandler := NewDashboardHandler(cfg.Marketplace, logger)
	attempts := webmiddleware.FormAttempts(cfg.FormAttemptsPerMinute, cfg.FormAttemptsBurst, cfg.TrustedProxyCIDRs, logger)

	// Anonymous pages carry no session data and may be cached, so they must
	// never set the session cookie.
	r.Group(func(r chi.Router) {
		r.Use(pkgmiddleware.RequestLogger(logger))
		r.Use(pkgmiddleware.CacheControl(publicMaxAge))
		r.Get("/", pages.Landing())
		r.Get("/marketplace", pages.Marketplace())
		r.Get("/product/{id}", pages.Product)
	})

	r.Group(func(r chi.Router) {
		r.Use(Sessions(cfg.Registry, cfg.Cookie))
		r.Use(pkgmiddleware.RequestLogger(logger))

		r.Group(func(r chi.Router) {
			r.Use(pkgmiddleware.NoStore)
			r.Use(ContentTypeJSON)

			r.Get("/login", authHandler.LoginForm)
			r.Get("/register", authHandler.RegisterForm)
			r.Get("/forgot-password", authHandler.ForgotPasswordForm)
			r.With(attempts).Post("/login", authHandler.Login)
			r.With(attempts).Post("/register", authHandler.Register)
			r.With(attempts).Post("/forgot-password", authHandler.ForgotPassword)

			r.Post("/logout", authHandler.Logout)
			r.Get("/api/session", authHandler.Session)

			r.Method(http.MethodGet, route.PathDashboard, route.DashboardRedirect(authState))

			// Any authenticated role.
			r.Group(func(r chi.Router) {
				r.Use(route.Require(authState))
				r.Get("/profile", authHandler.Profile)
				r.Patch("/profile", authHandler.UpdateProfile)
			})

			r.Group(func(r chi.Router) {
				r.Use(route.Require(authState, domain.RoleBuyer, domain.RoleFarmer))
				r.Get("/orders", orderHandler.List)
				r.Post("/orders/{id}/{action}", orderHandler.Act)
			})

			r.Group(func(r chi.Router) {
				r.Use(route.Require(authState, domain.RoleFarmer))
				r.Get("/farmer/dashboard", dashboardHandler.Farmer)
				r.Get("/farmer/products/new", pages.NewProduct())
				r.Get("/orders/{id}/ship", orderHandler.ShipForm)
			})

			r.Group(func(r chi.Router) {
				r.Use(route.Require(authState, domain.RoleBuyer))
				r.Get("/buyer/dashboard", dashboardHandler.Buyer)
				r.Get("/checkout", pages.Checkout())
			})

			r.With(route.Require(authState, domain.RoleDriver)).Get("/driver/dashboard", dashboardHandler.Driver)
			r.With(route.Require(authState, domain.RoleAdmin)).Get("/admin/dashboard", dashboardHandler.Admin)
		})

		if cfg.Proxy != nil {
			r.With(route.Require(authState), pkgmiddleware.NoStore).Handle("/api/proxy/*", cfg.Proxy)
		}
	})

	r.NotFound(pages.NotFound)

	return r
}
