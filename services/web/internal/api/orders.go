package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/TP-Master1-GL/TERRABIA/pkg/pagination"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
)

// Order and analytics endpoint paths relative to the API root.
const (
	PathOrders         = "/orders"
	PathAnalyticsStats = "/analytics/dashboard"
)

func buyerOrdersPath(userID string) string {
	return PathOrders + "/buyer/" + url.PathEscape(userID)
}

func farmerOrdersPath(userID string) string {
	return PathOrders + "/farmer/" + url.PathEscape(userID)
}

func orderPath(orderID, action string) string {
	return PathOrders + "/" + url.PathEscape(orderID) + "/" + action
}

// decodeOrderPage accepts a paginated {results, count, next, previous}
// envelope or a bare list.
func decodeOrderPage(data []byte, params pagination.Params) (pagination.Result[domain.Order], error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return pagination.NewResult[domain.Order](nil, 0, params, false), nil
	}

	if data[0] == '[' {
		var list []domain.Order
		if err := json.Unmarshal(data, &list); err != nil {
			return pagination.Result[domain.Order]{}, fmt.Errorf("%w: decode order list: %w", domain.ErrMalformedPayload, err)
		}
		return pagination.NewResult(list, len(list), params, false), nil
	}

	var page struct {
		Results  []domain.Order `json:"results"`
		Count    *int           `json:"count"`
		Next     *string        `json:"next"`
		Previous *string        `json:"previous"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return pagination.Result[domain.Order]{}, fmt.Errorf("%w: decode order page: %w", domain.ErrMalformedPayload, err)
	}

	total := len(page.Results)
	if page.Count != nil {
		total = *page.Count
	}
	hasNext := page.Next != nil && *page.Next != ""
	return pagination.NewResult(page.Results, total, params, hasNext), nil
}

func (c *Client) listOrders(ctx context.Context, ts TokenSource, path string, params pagination.Params) (pagination.Result[domain.Order], error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, params.Values(), ts, nil, &raw); err != nil {
		return pagination.Result[domain.Order]{}, err
	}
	return decodeOrderPage(raw, params)
}

// BuyerOrders lists the orders placed by a buyer.
func (c *Client) BuyerOrders(ctx context.Context, ts TokenSource, userID string, params pagination.Params) (pagination.Result[domain.Order], error) {
	return c.listOrders(ctx, ts, buyerOrdersPath(userID), params)
}

// FarmerOrders lists the orders received by a farmer.
func (c *Client) FarmerOrders(ctx context.Context, ts TokenSource, userID string, params pagination.Params) (pagination.Result[domain.Order], error) {
	return c.listOrders(ctx, ts, farmerOrdersPath(userID), params)
}

// UpdateOrderStatus sets an order's status.
func (c *Client) UpdateOrderStatus(ctx context.Context, ts TokenSource, orderID, status string) error {
	body := map[string]string{"status": status}
	return c.do(ctx, http.MethodPatch, orderPath(orderID, "status"), nil, ts, body, nil)
}

// CancelOrder cancels an order with a reason.
func (c *Client) CancelOrder(ctx context.Context, ts TokenSource, orderID, reason string) error {
	body := map[string]string{"cancellation_reason": reason}
	return c.do(ctx, http.MethodPost, orderPath(orderID, "cancel"), nil, ts, body, nil)
}

// ProcessPayment submits a payment for an order.
func (c *Client) ProcessPayment(ctx context.Context, ts TokenSource, orderID string, p domain.Payment) error {
	return c.do(ctx, http.MethodPost, orderPath(orderID, "payment"), nil, ts, p, nil)
}

// DashboardStats fetches the analytics headline numbers.
func (c *Client) DashboardStats(ctx context.Context, ts TokenSource) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	if err := c.do(ctx, http.MethodGet, PathAnalyticsStats, nil, ts, nil, &stats); err != nil {
		return domain.DashboardStats{}, err
	}
	return stats, nil
}
