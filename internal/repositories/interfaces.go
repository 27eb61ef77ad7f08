package repositories

import (
	"context"
	"time"

	domain "github.com/velour-cards/checkout-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository is the single source of truth for order records. Every
// write is a single atomic mutation keyed by order number; status updates are
// idempotent so replayed confirmations cannot corrupt state.
type OrderRepository interface {
	// Insert persists a new order. A duplicate order number fails with a
	// conflict; an unreachable store fails with an unavailable error. Both
	// abort the checkout rather than continuing unrecorded.
	Insert(ctx context.Context, order domain.Order) error
	// UpdatePaymentStatus sets the settlement axis. Re-applying the current
	// status is a no-op returning the stored order unchanged.
	UpdatePaymentStatus(ctx context.Context, orderNumber string, status domain.PaymentStatus, at time.Time) (domain.Order, error)
	// UpdateOrderStatus sets the fulfillment axis and stamps the
	// status-specific timestamp. Re-applying the current status is a no-op.
	// Legality of the transition is re-checked against the stored status
	// atomically with the write; a stale transition fails with a conflict.
	UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, at time.Time) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
}

// HealthRepository verifies connectivity to the persistence layer.
type HealthRepository interface {
	CheckReadiness(ctx context.Context) error
}
