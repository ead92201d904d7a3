package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/pkg/pagination"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/api"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/route"
)

// Order view notices.
const (
	NoticeOrdersUnavailable = "Impossible de charger les commandes"
	NoticeActionFailed      = "Impossible de mettre à jour la commande"
	NoticeActionDone        = "Commande mise à jour"
)

// MarketplaceAPI is the part of the marketplace API the views read.
type MarketplaceAPI interface {
	BuyerOrders(ctx context.Context, ts api.TokenSource, userID string, params pagination.Params) (pagination.Result[domain.Order], error)
	FarmerOrders(ctx context.Context, ts api.TokenSource, userID string, params pagination.Params) (pagination.Result[domain.Order], error)
	UpdateOrderStatus(ctx context.Context, ts api.TokenSource, orderID, status string) error
	CancelOrder(ctx context.Context, ts api.TokenSource, orderID, reason string) error
	ProcessPayment(ctx context.Context, ts api.TokenSource, orderID string, p domain.Payment) error
	DashboardStats(ctx context.Context, ts api.TokenSource) (domain.DashboardStats, error)
}

// OrderHandler serves the orders page and its actions.
type OrderHandler struct {
	api    MarketplaceAPI
	logger *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(marketplace MarketplaceAPI, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		api:    marketplace,
		logger: logger,
	}
}

// --- Request DTOs ---

// CancelOrderRequest is the JSON body of POST /orders/{id}/cancel.
type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// --- View models ---

// OrderRow is an order with the actions the viewer may take on it.
type OrderRow struct {
	domain.Order
	Total   domain.Amount        `json:"total"`
	Actions []domain.OrderAction `json:"actions"`
}

// OrdersView is the orders page.
type OrdersView struct {
	View   string                       `json:"view"`
	Role   domain.Role                  `json:"role"`
	Orders pagination.Result[OrderRow] `json:"orders"`
}

// ShipOrderView is the shipping form of a paid order.
type ShipOrderView struct {
	View    string `json:"view"`
	OrderID string `json:"order_id"`
}

func newOrderRows(orders []domain.Order, role domain.Role) []OrderRow {
	rows := make([]OrderRow, len(orders))
	for i := range orders {
		actions := orders[i].Actions(role)
		if actions == nil {
			actions = []domain.OrderAction{}
		}
		rows[i] = OrderRow{Order: orders[i], Total: orders[i].Total(), Actions: actions}
	}
	return rows
}

// listOrders fetches the orders scoped to the viewer's role: farmers see the
// orders they received, everyone else the orders they placed.
func (h *OrderHandler) listOrders(ctx context.Context, ts api.TokenSource, u domain.User, params pagination.Params) (pagination.Result[domain.Order], error) {
	if u.HasRole(domain.RoleFarmer) {
		return h.api.FarmerOrders(ctx, ts, u.ID, params)
	}
	return h.api.BuyerOrders(ctx, ts, u.ID, params)
}

// render re-fetches the list and writes the page. notice is replaced by the
// load failure message when the list cannot be fetched.
func (h *OrderHandler) render(w http.ResponseWriter, r *http.Request, notice string) {
	m, u, ok := currentUser(r)
	if !ok {
		httputil.Redirect(w, r, route.LoginPath(route.PathDashboard))
		return
	}

	params := pagination.FromRequest(r)
	page, err := h.listOrders(r.Context(), m.Tokens(), u, params)
	if err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "listing orders failed",
			slog.String("kind", string(domain.Classify(err))),
			slog.String("error", err.Error()),
		)
		page = pagination.NewResult[domain.Order](nil, 0, params, false)
		if notice == "" {
			notice = NoticeOrdersUnavailable
		}
	}

	rows := pagination.Result[OrderRow]{
		Data:       newOrderRows(page.Data, u.Role),
		TotalCount: page.TotalCount,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
		HasNext:    page.HasNext,
		HasPrev:    page.HasPrev,
	}
	writeView(w, http.StatusOK, OrdersView{View: "orders", Role: u.Role, Orders: rows}, notice)
}

// --- Handlers ---

// List handles GET /orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "")
}

// Act handles POST /orders/{id}/{action} for confirm, deliver, complete,
// cancel and pay. The list is always re-fetched; a failed action only adds a
// notice.
func (h *OrderHandler) Act(w http.ResponseWriter, r *http.Request) {
	m, u, ok := currentUser(r)
	if !ok {
		httputil.Redirect(w, r, route.LoginPath(route.PathDashboard))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "id"))
	action := domain.OrderAction(chi.URLParam(r, "action"))
	if orderID == "" || action == domain.ActionShip || !domain.ActionAllowed(u.Role, action) {
		httputil.WriteJSON(w, http.StatusForbidden, httputil.Response{
			Error: &httputil.ErrorResponse{
				Code:      "ACTION_NOT_ALLOWED",
				Message:   "Action non autorisée",
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			},
		})
		return
	}

	var err error
	switch action {
	case domain.ActionCancel:
		var req CancelOrderRequest
		if derr := httputil.DecodeJSON(w, r, &req); derr != nil {
			httputil.WriteError(w, r, derr, h.logger)
			return
		}
		err = h.api.CancelOrder(r.Context(), m.Tokens(), orderID, strings.TrimSpace(req.Reason))
	case domain.ActionPay:
		err = h.api.ProcessPayment(r.Context(), m.Tokens(), orderID, domain.NewMobileMoneyPayment(u.ID))
	default:
		status, _ := domain.ActionStatus(action)
		err = h.api.UpdateOrderStatus(r.Context(), m.Tokens(), orderID, status)
	}

	notice := NoticeActionDone
	if err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "order action failed",
			slog.String("order_id", orderID),
			slog.String("action", string(action)),
			slog.String("kind", string(domain.Classify(err))),
			slog.String("error", err.Error()),
		)
		notice = NoticeActionFailed
		if msg := api.Message(err); msg != "" {
			notice = NoticeActionFailed + " : " + msg
		}
	}

	h.render(w, r, notice)
}

// ShipForm handles GET /orders/{id}/ship
func (h *OrderHandler) ShipForm(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, ShipOrderView{View: "ship-order", OrderID: chi.URLParam(r, "id")})
}
