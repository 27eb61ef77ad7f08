package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/velour-cards/checkout-api/internal/domain"
	"github.com/velour-cards/checkout-api/internal/repositories"
)

const (
	orderEventPaid          = "order.paid"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an illegal status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates duplicate writes or concurrent mutations.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderConfirmationMismatch indicates the cancellation confirmation did
	// not match the order number.
	ErrOrderConfirmationMismatch = errors.New("order: confirmation number mismatch")
	// ErrOrderStoreUnavailable indicates the order store could not be reached.
	ErrOrderStoreUnavailable = errors.New("order: store unavailable")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Notifications NotificationService
	CartClears    CartClearScheduler
	Clock         func() time.Time
	Events        OrderEventPublisher
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	notifications NotificationService
	cartClears    CartClearScheduler
	clock         func() time.Time
	events        OrderEventPublisher
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		notifications: deps.Notifications,
		cartClears:    deps.CartClears,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// Get loads the shopper-facing tracking view keyed by order number alone.
func (s *orderService) Get(ctx context.Context, orderNumber string) (OrderTracking, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return OrderTracking{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		return OrderTracking{}, s.mapRepositoryError(err)
	}
	return newOrderTracking(order), nil
}

// MarkPaid transitions the settlement axis to paid. It is safe to invoke more
// than once: an already paid order returns unchanged with no side effects.
// The first transition dispatches the confirmation email and schedules the
// cart clear, both best effort.
func (s *orderService) MarkPaid(ctx context.Context, orderNumber string) (domain.Order, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if current.PaymentStatus == domain.PaymentStatusPaid {
		return current, nil
	}

	now := s.clock()
	updated, err := s.orders.UpdatePaymentStatus(ctx, number, domain.PaymentStatusPaid, now)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(current.Status),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     now,
	})
	s.dispatchPaidSideEffects(ctx, updated)

	return updated, nil
}

func (s *orderService) dispatchPaidSideEffects(ctx context.Context, order domain.Order) {
	if s.notifications != nil {
		if err := s.notifications.SendOrderConfirmation(ctx, order); err != nil {
			s.logger(ctx, "order.notification.failed", map[string]any{
				"orderNumber": order.OrderNumber,
				"error":       err.Error(),
			})
		}
	}
	if s.cartClears != nil {
		if err := s.cartClears.ScheduleCartClear(ctx, order.OrderNumber); err != nil {
			s.logger(ctx, "order.cart_clear.failed", map[string]any{
				"orderNumber": order.OrderNumber,
				"error":       err.Error(),
			})
		}
	}
}

// UpdateStatus applies a fulfillment transition after checking the legality
// table. Re-applying the current status is a no-op.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error) {
	number := strings.TrimSpace(cmd.OrderNumber)
	if number == "" {
		return domain.Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	if !cmd.Status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	current, err := s.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if current.Status == cmd.Status {
		return current, nil
	}
	if !current.Status.CanTransitionTo(cmd.Status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, cmd.Status)
	}

	now := s.clock()
	updated, err := s.orders.UpdateOrderStatus(ctx, number, cmd.Status, now)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(current.Status),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     now,
	})
	return updated, nil
}

// Cancel sets the order to cancelled. It is legal only while the order is
// still pending, and the caller must re-state the exact order number; both
// guards reject without mutating anything. Cancellation is terminal.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	number := strings.TrimSpace(cmd.OrderNumber)
	if number == "" {
		return domain.Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Confirmation) != number {
		return domain.Order{}, ErrOrderConfirmationMismatch
	}

	current, err := s.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if current.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: only pending orders can be cancelled (current: %s)", ErrOrderInvalidState, current.Status)
	}

	now := s.clock()
	updated, err := s.orders.UpdateOrderStatus(ctx, number, domain.OrderStatusCancelled, now)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(current.Status),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     now,
	})
	return updated, nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderStoreUnavailable, err)
		}
	}

	return err
}

func newOrderTracking(order domain.Order) OrderTracking {
	return OrderTracking{
		Order:          order,
		StatusLabel:    order.Status.Label(),
		StatusProgress: order.Status.Progress(),
	}
}

