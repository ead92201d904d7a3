package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Order status constants.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusPaid       = "paid"
	OrderStatusInDelivery = "in_delivery"
	OrderStatusDelivered  = "delivered"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// ValidStatuses returns all known order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusPaid,
		OrderStatusInDelivery,
		OrderStatusDelivered,
		OrderStatusCompleted,
		OrderStatusCancelled,
	}
}

// IsValidStatus checks if a status string is known.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// OrderAction is a mutation a user can trigger from the orders page.
type OrderAction string

// Order actions.
const (
	ActionConfirm  OrderAction = "confirm"
	ActionCancel   OrderAction = "cancel"
	ActionPay      OrderAction = "pay"
	ActionShip     OrderAction = "ship"
	ActionDeliver  OrderAction = "deliver"
	ActionComplete OrderAction = "complete"
)

// ActionStatus maps status-changing actions to the status they set.
func ActionStatus(a OrderAction) (string, bool) {
	switch a {
	case ActionConfirm:
		return OrderStatusConfirmed, true
	case ActionDeliver:
		return OrderStatusDelivered, true
	case ActionComplete:
		return OrderStatusCompleted, true
	}
	return "", false
}

// ActionAllowed reports whether role may trigger a on orders at all. Farmers
// act on received orders; everyone else acts on orders they placed.
func ActionAllowed(role Role, a OrderAction) bool {
	switch a {
	case ActionConfirm, ActionCancel, ActionShip, ActionDeliver:
		return role == RoleFarmer
	case ActionPay, ActionComplete:
		return role != RoleFarmer
	}
	return false
}

// Amount is a monetary value. The backend serializes decimals either as JSON
// numbers or as strings.
type Amount float64

// UnmarshalJSON accepts 1500, 1500.5, "1500.00" and null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse amount %q: %w", s, err)
		}
		*a = Amount(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

// ID is an identifier the backend may send as a number or a string.
type ID string

// UnmarshalJSON accepts numeric and string identifiers.
func (id *ID) UnmarshalJSON(data []byte) error {
	s, err := ScalarString(data)
	if err != nil {
		return err
	}
	*id = ID(s)
	return nil
}

// Order is a marketplace order as returned by the order endpoints.
type Order struct {
	ID                 ID            `json:"id"`
	OrderNumber        string        `json:"order_number,omitempty"`
	Status             string        `json:"status"`
	TotalAmount        Amount        `json:"total_amount"`
	DeliveryFee        Amount        `json:"delivery_fee"`
	CommissionFee      Amount        `json:"commission_fee"`
	BuyerID            ID            `json:"buyer_id,omitempty"`
	FarmerID           ID            `json:"farmer_id,omitempty"`
	BuyerName          string        `json:"buyer_name,omitempty"`
	FarmerName         string        `json:"farmer_name,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	Items              []OrderItem   `json:"items"`
	Transactions       []Transaction `json:"transactions,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// OrderItem is a line of an order.
type OrderItem struct {
	ID         ID     `json:"id"`
	ProductID  ID     `json:"product_id"`
	Name       string `json:"name"`
	Price      Amount `json:"price"`
	Quantity   int    `json:"quantity"`
	Image      string `json:"image,omitempty"`
	FarmerName string `json:"farmer_name,omitempty"`
	Total      Amount `json:"total"`
}

// Transaction is a payment attached to an order.
type Transaction struct {
	ID            ID     `json:"id"`
	Amount        Amount `json:"amount"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Subtotal sums price times quantity over all items.
func (o *Order) Subtotal() Amount {
	var total Amount
	for _, item := range o.Items {
		total += item.Price * Amount(item.Quantity)
	}
	return total
}

// Total returns TotalAmount, or subtotal plus fees when the backend sent none.
func (o *Order) Total() Amount {
	if o.TotalAmount != 0 {
		return o.TotalAmount
	}
	return o.Subtotal() + o.DeliveryFee + o.CommissionFee
}

// Actions returns the actions available on this order for a canonical role.
func (o *Order) Actions(role Role) []OrderAction {
	if role == RoleFarmer {
		switch o.Status {
		case OrderStatusPending:
			return []OrderAction{ActionConfirm, ActionCancel}
		case OrderStatusPaid:
			return []OrderAction{ActionShip}
		case OrderStatusInDelivery:
			return []OrderAction{ActionDeliver}
		}
		return nil
	}

	switch o.Status {
	case OrderStatusConfirmed:
		return []OrderAction{ActionPay}
	case OrderStatusDelivered:
		return []OrderAction{ActionComplete}
	}
	return nil
}

// Payment is the body sent to process an order payment.
type Payment struct {
	Amount        Amount            `json:"amount"`
	PaymentMethod string            `json:"payment_method"`
	PayerID       string            `json:"payer_id"`
	PayeeID       string            `json:"payee_id"`
	Metadata      map[string]string `json:"metadata"`
}

// PaymentMethodMobileMoney is the only payment method offered by the web client.
const PaymentMethodMobileMoney = "mobile_money"

// NewMobileMoneyPayment builds the payment the orders page submits. The
// backend computes the amount and payee from the order.
func NewMobileMoneyPayment(payerID string) Payment {
	return Payment{
		PaymentMethod: PaymentMethodMobileMoney,
		PayerID:       payerID,
		Metadata:      map[string]string{},
	}
}

// DashboardStats are the headline numbers shown on a dashboard.
type DashboardStats struct {
	TotalOrders     int    `json:"totalOrders"`
	PendingOrders   int    `json:"pendingOrders"`
	TotalSpent      Amount `json:"totalSpent"`
	FavoriteFarmers int    `json:"favoriteFarmers"`
}
