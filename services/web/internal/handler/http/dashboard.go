package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/pkg/pagination"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/api"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/route"
)

// Number of recent orders shown on dashboards.
const (
	buyerRecentOrders  = 3
	farmerRecentOrders = 5
)

// DashboardHandler serves the role dashboards.
type DashboardHandler struct {
	api    MarketplaceAPI
	orders *OrderHandler
	logger *slog.Logger
}

// NewDashboardHandler creates a new dashboard HTTP handler.
func NewDashboardHandler(marketplace MarketplaceAPI, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		api:    marketplace,
		orders: NewOrderHandler(marketplace, logger),
		logger: logger,
	}
}

// DashboardView is a role dashboard.
type DashboardView struct {
	View         string                `json:"view"`
	User         domain.User           `json:"user"`
	Stats        domain.DashboardStats `json:"stats"`
	RecentOrders []OrderRow            `json:"recentOrders,omitempty"`
}

// stats fetches the analytics numbers. Analytics being down is not an error
// for a dashboard: zeroed stats are shown instead.
func (h *DashboardHandler) stats(ctx context.Context, ts api.TokenSource) domain.DashboardStats {
	stats, err := h.api.DashboardStats(ctx, ts)
	if err != nil {
		logger.FromContext(ctx).InfoContext(ctx, "dashboard stats unavailable, using zero values",
			slog.String("error", err.Error()),
		)
		return domain.DashboardStats{}
	}
	return stats
}

func (h *DashboardHandler) render(w http.ResponseWriter, r *http.Request, view string, recent int) {
	m, u, ok := currentUser(r)
	if !ok {
		httputil.Redirect(w, r, route.LoginPath(r.URL.RequestURI()))
		return
	}

	dv := DashboardView{View: view, User: u, Stats: h.stats(r.Context(), m.Tokens())}

	var notice string
	if recent > 0 {
		params := pagination.Params{Page: 1, PageSize: recent}
		page, err := h.orders.listOrders(r.Context(), m.Tokens(), u, params)
		if err != nil {
			notice = NoticeOrdersUnavailable
			dv.RecentOrders = []OrderRow{}
		} else {
			data := page.Data
			if len(data) > recent {
				data = data[:recent]
			}
			dv.RecentOrders = newOrderRows(data, u.Role)
		}
	}

	writeView(w, http.StatusOK, dv, notice)
}

// Buyer handles GET /buyer/dashboard
func (h *DashboardHandler) Buyer(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "buyer-dashboard", buyerRecentOrders)
}

// Farmer handles GET /farmer/dashboard
func (h *DashboardHandler) Farmer(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "farmer-dashboard", farmerRecentOrders)
}

// Driver handles GET /driver/dashboard
func (h *DashboardHandler) Driver(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "driver-dashboard", 0)
}

// Admin handles GET /admin/dashboard
func (h *DashboardHandler) Admin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "admin-dashboard", 0)
}
