package services

import (
	"context"

	domain "github.com/velour-cards/checkout-api/internal/domain"
	"github.com/velour-cards/checkout-api/internal/payments"
)

// CheckoutItemInput is one line submitted by the storefront at checkout.
type CheckoutItemInput struct {
	ID        string
	Name      string
	UnitPrice int64
	Quantity  int
	ImageRef  string
}

// CreatePaymentIntentCommand carries everything needed to create an order and
// run one authorization attempt. Instrument is wiped before the call returns.
type CreatePaymentIntentCommand struct {
	Amount        int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Address       string
	CustomerNote  string
	Items         []CheckoutItemInput
	Instrument    *payments.CardInstrument
	Installments  int
	Provider      string
}

// PaymentIntentOutcome enumerates the three ways an authorization resolves.
type PaymentIntentOutcome string

const (
	// PaymentIntentOutcomePaid means the order was authorized and marked paid.
	PaymentIntentOutcomePaid PaymentIntentOutcome = "paid"
	// PaymentIntentOutcomeChallenge means the shopper must complete 3-D Secure.
	PaymentIntentOutcomeChallenge PaymentIntentOutcome = "challenge"
	// PaymentIntentOutcomeDeclined means the gateway rejected the payment; the
	// order stays pending and unpaid so the shopper can retry.
	PaymentIntentOutcomeDeclined PaymentIntentOutcome = "declined"
)

// PaymentIntentResult reports the authorization outcome to the HTTP layer.
type PaymentIntentResult struct {
	Outcome            PaymentIntentOutcome
	OrderNumber        string
	TestMode           bool
	ThreeDSHTMLContent string
	DeclineReason      string
}

// ConfirmPaymentCommand is the confirmation-redirect payload: the issuer sends
// the shopper back with the order number and a payment outcome flag.
type ConfirmPaymentCommand struct {
	OrderNumber string
	Succeeded   bool
}

// CheckoutService orchestrates the checkout control flow: validation, order
// creation, authorization, and the post-challenge confirmation.
type CheckoutService interface {
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (OrderTracking, error)
}

// OrderTracking is the shopper-facing read model: the order plus its fixed
// status label and tracking progress percentage.
type OrderTracking struct {
	Order          domain.Order
	StatusLabel    string
	StatusProgress int
}

// UpdateOrderStatusCommand requests a fulfillment transition.
type UpdateOrderStatusCommand struct {
	OrderNumber string
	Status      domain.OrderStatus
}

// CancelOrderCommand requests a customer cancellation. Confirmation must
// re-state the exact order number; the mismatch guard protects against
// accidental cancellation.
type CancelOrderCommand struct {
	OrderNumber  string
	Confirmation string
}

// OrderService owns every mutation of a persisted order and enforces the
// lifecycle transition table at a single choke point.
type OrderService interface {
	Get(ctx context.Context, orderNumber string) (OrderTracking, error)
	MarkPaid(ctx context.Context, orderNumber string) (domain.Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
}

// NotificationService dispatches the order-confirmation email. Failures are
// logged by the implementation and never block order confirmation.
type NotificationService interface {
	SendOrderConfirmation(ctx context.Context, order domain.Order) error
}

// CartClearScheduler instructs the storefront cart to clear itself after a
// short delay, so the confirmation screen still shows the purchased items.
type CartClearScheduler interface {
	ScheduleCartClear(ctx context.Context, orderNumber string) error
}

// SystemService exposes operational probes for the HTTP health surface.
type SystemService interface {
	CheckReadiness(ctx context.Context) error
}
