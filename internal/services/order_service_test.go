package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/velour-cards/checkout-api/internal/domain"
)

type repoError struct {
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.err.Error() }
func (e *repoError) Unwrap() error       { return e.err }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	insertFn              func(ctx context.Context, order domain.Order) error
	updatePaymentStatusFn func(ctx context.Context, orderNumber string, status domain.PaymentStatus, at time.Time) (domain.Order, error)
	updateOrderStatusFn   func(ctx context.Context, orderNumber string, status domain.OrderStatus, at time.Time) (domain.Order, error)
	findFn                func(ctx context.Context, orderNumber string) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepo) UpdatePaymentStatus(ctx context.Context, orderNumber string, status domain.PaymentStatus, at time.Time) (domain.Order, error) {
	if s.updatePaymentStatusFn == nil {
		return domain.Order{}, errors.New("unexpected UpdatePaymentStatus call")
	}
	return s.updatePaymentStatusFn(ctx, orderNumber, status, at)
}

func (s *stubOrderRepo) UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	if s.updateOrderStatusFn == nil {
		return domain.Order{}, errors.New("unexpected UpdateOrderStatus call")
	}
	return s.updateOrderStatusFn(ctx, orderNumber, status, at)
}

func (s *stubOrderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findFn == nil {
		return domain.Order{}, errors.New("unexpected FindByOrderNumber call")
	}
	return s.findFn(ctx, orderNumber)
}

type captureOrderEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return c.err
}

type captureNotifications struct {
	orders []domain.Order
	err    error
}

func (c *captureNotifications) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	c.orders = append(c.orders, order)
	return c.err
}

type captureCartClears struct {
	orderNumbers []string
	err          error
}

func (c *captureCartClears) ScheduleCartClear(ctx context.Context, orderNumber string) error {
	c.orderNumbers = append(c.orderNumbers, orderNumber)
	return c.err
}

var testClock = func() time.Time {
	return time.Date(2026, time.August, 29, 10, 30, 0, 0, time.UTC)
}

func pendingOrder(number string) domain.Order {
	created := time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:          "01J3TESTORDERID",
		OrderNumber: number,
		Customer: domain.Customer{
			Name:    "Jordan Reyes",
			Email:   "jordan@example.com",
			Address: "12 Garden Lane, Springfield",
		},
		Items: []domain.OrderItem{
			{ID: "itm_1", Name: "Classic Card Set", UnitPrice: 899, Quantity: 2},
		},
		Totals:        domain.ComputeTotals([]domain.OrderItem{{UnitPrice: 899, Quantity: 2}}),
		Currency:      "USD",
		PaymentMethod: domain.PaymentMethodCreditCard,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestOrderServiceMarkPaidDispatchesSideEffects(t *testing.T) {
	ctx := context.Background()
	stored := pendingOrder("VC-20260829-ABCDEF01")

	var paymentUpdates int
	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return stored, nil
		},
		updatePaymentStatusFn: func(ctx context.Context, orderNumber string, status domain.PaymentStatus, at time.Time) (domain.Order, error) {
			paymentUpdates++
			if status != domain.PaymentStatusPaid {
				t.Fatalf("expected paid status, got %q", status)
			}
			updated := stored
			updated.PaymentStatus = domain.PaymentStatusPaid
			paidAt := at
			updated.PaidAt = &paidAt
			return updated, nil
		},
	}
	events := &captureOrderEvents{}
	notifications := &captureNotifications{}
	cartClears := &captureCartClears{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        repo,
		Notifications: notifications,
		CartClears:    cartClears,
		Clock:         testClock,
		Events:        events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.MarkPaid(ctx, stored.OrderNumber)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if updated.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment status paid, got %q", updated.PaymentStatus)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("order status must stay pending after payment, got %q", updated.Status)
	}
	if paymentUpdates != 1 {
		t.Fatalf("expected one payment update, got %d", paymentUpdates)
	}
	if len(notifications.orders) != 1 || notifications.orders[0].OrderNumber != stored.OrderNumber {
		t.Fatalf("expected confirmation email for %s, got %+v", stored.OrderNumber, notifications.orders)
	}
	if len(cartClears.orderNumbers) != 1 {
		t.Fatalf("expected cart clear to be scheduled, got %v", cartClears.orderNumbers)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventPaid {
		t.Fatalf("expected order.paid event, got %+v", events.events)
	}
}

func TestOrderServiceMarkPaidIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stored := pendingOrder("VC-20260829-ABCDEF01")
	stored.PaymentStatus = domain.PaymentStatusPaid

	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return stored, nil
		},
	}
	notifications := &captureNotifications{}
	cartClears := &captureCartClears{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        repo,
		Notifications: notifications,
		CartClears:    cartClears,
		Clock:         testClock,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	first, err := svc.MarkPaid(ctx, stored.OrderNumber)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	second, err := svc.MarkPaid(ctx, stored.OrderNumber)
	if err != nil {
		t.Fatalf("mark paid again: %v", err)
	}

	if first.PaymentStatus != second.PaymentStatus || first.UpdatedAt != second.UpdatedAt {
		t.Fatalf("repeated mark paid must not change state: %+v vs %+v", first, second)
	}
	if len(notifications.orders) != 0 {
		t.Fatal("already paid orders must not re-send confirmation email")
	}
	if len(cartClears.orderNumbers) != 0 {
		t.Fatal("already paid orders must not re-schedule cart clear")
	}
}

func TestOrderServiceMarkPaidToleratesSideEffectFailures(t *testing.T) {
	ctx := context.Background()
	stored := pendingOrder("VC-20260829-ABCDEF01")

	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return stored, nil
		},
		updatePaymentStatusFn: func(ctx context.Context, orderNumber string, status domain.PaymentStatus, at time.Time) (domain.Order, error) {
			updated := stored
			updated.PaymentStatus = domain.PaymentStatusPaid
			return updated, nil
		},
	}

	var logged []string
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        repo,
		Notifications: &captureNotifications{err: errors.New("smtp down")},
		CartClears:    &captureCartClears{err: errors.New("pubsub down")},
		Clock:         testClock,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.MarkPaid(ctx, stored.OrderNumber); err != nil {
		t.Fatalf("side effect failures must not fail mark paid: %v", err)
	}

	if len(logged) != 2 {
		t.Fatalf("expected both side effect failures logged, got %v", logged)
	}
}

func TestOrderServiceUpdateStatusFollowsTransitionTable(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		current domain.OrderStatus
		next    domain.OrderStatus
		legal   bool
	}{
		{"pending to processing", domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{"processing to shipped", domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{"shipped to delivered", domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{"pending to shipped", domain.OrderStatusPending, domain.OrderStatusShipped, false},
		{"pending to delivered", domain.OrderStatusPending, domain.OrderStatusDelivered, false},
		{"processing to cancelled", domain.OrderStatusProcessing, domain.OrderStatusCancelled, false},
		{"delivered to processing", domain.OrderStatusDelivered, domain.OrderStatusProcessing, false},
		{"cancelled to processing", domain.OrderStatusCancelled, domain.OrderStatusProcessing, false},
		{"shipped backwards", domain.OrderStatusShipped, domain.OrderStatusProcessing, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stored := pendingOrder("VC-20260829-ABCDEF01")
			stored.Status = tc.current

			var mutated bool
			repo := &stubOrderRepo{
				findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
					return stored, nil
				},
				updateOrderStatusFn: func(ctx context.Context, orderNumber string, status domain.OrderStatus, at time.Time) (domain.Order, error) {
					mutated = true
					updated := stored
					updated.Status = status
					return updated, nil
				},
			}

			svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock})
			if err != nil {
				t.Fatalf("new order service: %v", err)
			}

			updated, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{
				OrderNumber: stored.OrderNumber,
				Status:      tc.next,
			})

			if tc.legal {
				if err != nil {
					t.Fatalf("expected legal transition, got %v", err)
				}
				if updated.Status != tc.next {
					t.Fatalf("expected status %q, got %q", tc.next, updated.Status)
				}
				return
			}

			if !errors.Is(err, ErrOrderInvalidState) {
				t.Fatalf("expected ErrOrderInvalidState, got %v", err)
			}
			if mutated {
				t.Fatal("illegal transitions must not mutate the order")
			}
		})
	}
}

func TestOrderServiceUpdateStatusSameStatusIsNoOp(t *testing.T) {
	ctx := context.Background()
	stored := pendingOrder("VC-20260829-ABCDEF01")
	stored.Status = domain.OrderStatusProcessing

	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return stored, nil
		},
	}
	events := &captureOrderEvents{}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock, Events: events})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{
		OrderNumber: stored.OrderNumber,
		Status:      domain.OrderStatusProcessing,
	})
	if err != nil {
		t.Fatalf("same-status update must be a no-op, got %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected status %q", updated.Status)
	}
	if len(events.events) != 0 {
		t.Fatal("no-op transitions must not publish events")
	}
}

func TestOrderServiceCancelPendingOrder(t *testing.T) {
	ctx := context.Background()
	stored := pendingOrder("VC-20260829-ABCDEF01")

	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return stored, nil
		},
		updateOrderStatusFn: func(ctx context.Context, orderNumber string, status domain.OrderStatus, at time.Time) (domain.Order, error) {
			if status != domain.OrderStatusCancelled {
				t.Fatalf("expected cancelled status, got %q", status)
			}
			updated := stored
			updated.Status = status
			cancelledAt := at
			updated.CancelledAt = &cancelledAt
			return updated, nil
		},
	}
	events := &captureOrderEvents{}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock, Events: events})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, CancelOrderCommand{
		OrderNumber:  stored.OrderNumber,
		Confirmation: stored.OrderNumber,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %q", cancelled.Status)
	}
	if cancelled.CancelledAt == nil {
		t.Fatal("expected cancellation timestamp")
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCancelled {
		t.Fatalf("expected order.cancelled event, got %+v", events.events)
	}
}

func TestOrderServiceCancelRejectsNonPending(t *testing.T) {
	ctx := context.Background()

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		stored := pendingOrder("VC-20260829-ABCDEF01")
		stored.Status = status

		var mutated bool
		repo := &stubOrderRepo{
			findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
				return stored, nil
			},
			updateOrderStatusFn: func(ctx context.Context, orderNumber string, s domain.OrderStatus, at time.Time) (domain.Order, error) {
				mutated = true
				return stored, nil
			},
		}

		svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock})
		if err != nil {
			t.Fatalf("new order service: %v", err)
		}

		_, err = svc.Cancel(ctx, CancelOrderCommand{
			OrderNumber:  stored.OrderNumber,
			Confirmation: stored.OrderNumber,
		})
		if !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("status %q: expected ErrOrderInvalidState, got %v", status, err)
		}
		if mutated {
			t.Fatalf("status %q: rejected cancellation must not mutate the order", status)
		}
	}
}

func TestOrderServiceCancelConfirmationMismatch(t *testing.T) {
	ctx := context.Background()

	var reads int
	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			reads++
			return pendingOrder(orderNumber), nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.Cancel(ctx, CancelOrderCommand{
		OrderNumber:  "VC-20260829-ABCDEF01",
		Confirmation: "VC-20260829-ABCDEF02",
	})
	if !errors.Is(err, ErrOrderConfirmationMismatch) {
		t.Fatalf("expected ErrOrderConfirmationMismatch, got %v", err)
	}
	if reads != 0 {
		t.Fatal("mismatched confirmation must be rejected before any read")
	}
}

func TestOrderServiceGetReturnsTracking(t *testing.T) {
	ctx := context.Background()
	stored := pendingOrder("VC-20260829-ABCDEF01")
	stored.Status = domain.OrderStatusShipped

	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return stored, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	tracking, err := svc.Get(ctx, stored.OrderNumber)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tracking.StatusProgress != 75 {
		t.Fatalf("expected shipped progress 75, got %d", tracking.StatusProgress)
	}
	if tracking.StatusLabel == "" {
		t.Fatal("expected a status label")
	}
}

func TestOrderServiceGetMapsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := &stubOrderRepo{
		findFn: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return domain.Order{}, &repoError{err: errors.New("missing"), notFound: true}
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.Get(ctx, "VC-20260829-MISSING0"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
