package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/velour-cards/checkout-api/internal/platform/httpx"
	"github.com/velour-cards/checkout-api/internal/services"
)

// NotificationHandlers re-triggers the order-confirmation email, mainly for
// support flows when the original send was lost.
type NotificationHandlers struct {
	orders        services.OrderService
	notifications services.NotificationService
}

// NewNotificationHandlers constructs notification handlers over the order and
// notification services.
func NewNotificationHandlers(orders services.OrderService, notifications services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{
		orders:        orders,
		notifications: notifications,
	}
}

// Routes registers notification endpoints under the provided router.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/order-email", h.sendOrderEmail)
}

type orderEmailRequest struct {
	OrderNumber string `json:"order_number"`
}

// sendOrderEmail is fire and forget: a malformed body or unknown order is an
// error, but relay failures still return 202 so callers never retry into a
// duplicate email storm.
func (h *NotificationHandlers) sendOrderEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notifications_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req orderEmailRequest
	if !decodeRequest(ctx, w, r, maxOrderRequestBody, &req) {
		return
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_number is required", http.StatusBadRequest))
		return
	}

	tracking, err := h.orders.Get(ctx, req.OrderNumber)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	queued := true
	if err := h.notifications.SendOrderConfirmation(ctx, tracking.Order); err != nil {
		queued = false
	}

	writeJSONResponse(w, http.StatusAccepted, map[string]any{
		"accepted":     true,
		"delivered":    queued,
		"order_number": tracking.Order.OrderNumber,
	})
}
