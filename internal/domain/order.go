package domain

import (
	"slices"
	"time"
)

// PaymentMethod enumerates accepted tender types.
type PaymentMethod string

const (
	// PaymentMethodCreditCard is the only tender currently accepted.
	PaymentMethodCreditCard PaymentMethod = "credit_card"
)

// PaymentStatus tracks the settlement axis of an order, independent of fulfillment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the order has not been authorized yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the gateway authorized the payment.
	PaymentStatusPaid PaymentStatus = "paid"
)

// OrderStatus enumerates valid fulfillment states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created and awaits processing.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the customer cancelled before processing began.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderStatusDisplay pairs the shopper-facing label with the tracking progress percent.
type orderStatusDisplay struct {
	label    string
	progress int
}

var orderStatusDisplays = map[OrderStatus]orderStatusDisplay{
	OrderStatusPending:    {label: "Order received", progress: 25},
	OrderStatusProcessing: {label: "Preparing your order", progress: 50},
	OrderStatusShipped:    {label: "Shipped", progress: 75},
	OrderStatusDelivered:  {label: "Delivered", progress: 100},
	OrderStatusCancelled:  {label: "Cancelled", progress: 0},
}

// orderStatusTransitions is the single source of truth for legal fulfillment
// transitions. Anything absent here is rejected; cancellation is reachable
// only from pending, and delivered/cancelled are terminal.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// Valid reports whether the status is one of the enumerated lifecycle states.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusDisplays[s]
	return ok
}

// CanTransitionTo reports whether the fulfillment transition from s to target
// is legal. Re-applying the current status is always legal so replayed
// updates stay idempotent.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if s == target {
		return s.Valid()
	}
	next, ok := orderStatusTransitions[s]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// Label returns the fixed human-readable label surfaced to shoppers.
func (s OrderStatus) Label() string {
	return orderStatusDisplays[s].label
}

// Progress returns the tracking progress-bar percentage for the status.
func (s OrderStatus) Progress() int {
	return orderStatusDisplays[s].progress
}

// Customer captures the contact and delivery details collected at checkout.
// Address is intentionally free text: upstream forms concatenate the fields.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// OrderItem is one purchased line; LineTotal is always UnitPrice times Quantity.
type OrderItem struct {
	ID        string
	Name      string
	UnitPrice int64
	Quantity  int
	ImageRef  string
}

// LineTotal returns the extended price for the line in minor units.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// OrderTotals summarizes the amounts charged for an order in minor units.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
}

// Order is the durable checkout record, keyed externally by OrderNumber.
type Order struct {
	ID            string
	OrderNumber   string
	Customer      Customer
	Items         []OrderItem
	Totals        OrderTotals
	Currency      string
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Status        OrderStatus
	CustomerNote  string
	AdminNote     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
}

// ComputeTotals derives order totals from the item lines. Shipping and tax are
// currently always zero, so Total equals Subtotal plus Shipping.
func ComputeTotals(items []OrderItem) OrderTotals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	return OrderTotals{
		Subtotal: subtotal,
		Shipping: 0,
		Tax:      0,
		Total:    subtotal,
	}
}
