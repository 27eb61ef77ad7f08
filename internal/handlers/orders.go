package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/velour-cards/checkout-api/internal/domain"
	"github.com/velour-cards/checkout-api/internal/platform/httpx"
	"github.com/velour-cards/checkout-api/internal/services"
)

const maxOrderRequestBody = 4 * 1024

// OrderHandlers exposes the unauthenticated order tracking surface: lookup,
// cancellation, and the payment-confirmation redirect target. Orders are keyed
// by their unguessable server-generated number, which is the access credential.
type OrderHandlers struct {
	orders   services.OrderService
	checkout services.CheckoutService
}

// NewOrderHandlers constructs order handlers over the order and checkout services.
func NewOrderHandlers(orders services.OrderService, checkout services.CheckoutService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		checkout: checkout,
	}
}

// Routes registers public order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderNumber}", h.getOrder)
	r.Post("/cancel", h.cancelOrder)
	r.Post("/confirm", h.confirmPayment)
}

// InternalRoutes registers fulfillment endpoints meant for back-office callers.
func (h *OrderHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/status", h.updateStatus)
}

type orderCustomerPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address"`
}

type orderItemPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
	Image     string `json:"image,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderPayload struct {
	OrderNumber    string               `json:"order_number"`
	Status         string               `json:"status"`
	StatusLabel    string               `json:"status_label"`
	StatusProgress int                  `json:"status_progress"`
	PaymentStatus  string               `json:"payment_status"`
	Currency       string               `json:"currency"`
	Customer       orderCustomerPayload `json:"customer"`
	Items          []orderItemPayload   `json:"items"`
	Totals         orderTotalsPayload   `json:"totals"`
	Note           string               `json:"note,omitempty"`
	CreatedAt      string               `json:"created_at"`
	UpdatedAt      string               `json:"updated_at"`
	PaidAt         string               `json:"paid_at,omitempty"`
	ShippedAt      string               `json:"shipped_at,omitempty"`
	DeliveredAt    string               `json:"delivered_at,omitempty"`
	CancelledAt    string               `json:"cancelled_at,omitempty"`
}

type cancelOrderRequest struct {
	OrderNumber  string `json:"order_number"`
	Confirmation string `json:"confirmation"`
}

type cancelOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type confirmPaymentRequest struct {
	OrderNumber string `json:"order_number"`
	Succeeded   bool   `json:"succeeded"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	tracking, err := h.orders.Get(ctx, orderNumber)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newOrderPayload(tracking))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req cancelOrderRequest
	if !decodeRequest(ctx, w, r, maxOrderRequestBody, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderNumber:  req.OrderNumber,
		Confirmation: req.Confirmation,
	})
	if err != nil {
		// Guarded rejections keep the {success, message} shape so the
		// cancellation form can render them inline; everything else is a
		// plain API error.
		switch {
		case errors.Is(err, services.ErrOrderConfirmationMismatch):
			writeJSONResponse(w, http.StatusBadRequest, cancelOrderResponse{
				Success: false,
				Message: "confirmation must match the order number exactly",
			})
		case errors.Is(err, services.ErrOrderInvalidState):
			writeJSONResponse(w, http.StatusConflict, cancelOrderResponse{
				Success: false,
				Message: "only pending orders can be cancelled",
			})
		default:
			writeServiceError(ctx, w, err)
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Success: true,
		Message: "order " + order.OrderNumber + " cancelled",
	})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req confirmPaymentRequest
	if !decodeRequest(ctx, w, r, maxOrderRequestBody, &req) {
		return
	}

	tracking, err := h.checkout.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderNumber: req.OrderNumber,
		Succeeded:   req.Succeeded,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newOrderPayload(tracking))
}

type updateStatusRequest struct {
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateStatusRequest
	if !decodeRequest(ctx, w, r, maxOrderRequestBody, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderNumber: req.OrderNumber,
		Status:      domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newOrderPayload(services.OrderTracking{
		Order:          order,
		StatusLabel:    order.Status.Label(),
		StatusProgress: order.Status.Progress(),
	}))
}

func decodeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func newOrderPayload(tracking services.OrderTracking) orderPayload {
	order := tracking.Order

	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:        item.ID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
			Image:     item.ImageRef,
		})
	}

	return orderPayload{
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		StatusLabel:    tracking.StatusLabel,
		StatusProgress: tracking.StatusProgress,
		PaymentStatus:  string(order.PaymentStatus),
		Currency:       order.Currency,
		Customer: orderCustomerPayload{
			Name:    order.Customer.Name,
			Email:   order.Customer.Email,
			Phone:   order.Customer.Phone,
			Address: order.Customer.Address,
		},
		Items:       items,
		Totals:      orderTotalsPayload(order.Totals),
		Note:        order.CustomerNote,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		PaidAt:      formatTimePointer(order.PaidAt),
		ShippedAt:   formatTimePointer(order.ShippedAt),
		DeliveredAt: formatTimePointer(order.DeliveredAt),
		CancelledAt: formatTimePointer(order.CancelledAt),
	}
}
