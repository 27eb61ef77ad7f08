package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/velour-cards/checkout-api/internal/domain"
	pfirestore "github.com/velour-cards/checkout-api/internal/platform/firestore"
	"github.com/velour-cards/checkout-api/internal/repositories"
)

const (
	orderCollection = "orders"
	// orderNumberIndexCollection maps order numbers to document IDs so
	// uniqueness can be enforced with a transactional create.
	orderNumberIndexCollection = "orderNumbers"
)

// OrderRepository persists checkout orders in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

type orderCustomerDocument struct {
	Name    string `firestore:"name"`
	Email   string `firestore:"email"`
	Phone   string `firestore:"phone"`
	Address string `firestore:"address"`
}

type orderItemDocument struct {
	ID        string `firestore:"id"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	ImageRef  string `firestore:"imageRef,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type orderDocument struct {
	OrderNumber   string                `firestore:"orderNumber"`
	Customer      orderCustomerDocument `firestore:"customer"`
	Items         []orderItemDocument   `firestore:"items"`
	Totals        orderTotalsDocument   `firestore:"totals"`
	Currency      string                `firestore:"currency"`
	PaymentMethod string                `firestore:"paymentMethod"`
	PaymentStatus string                `firestore:"paymentStatus"`
	Status        string                `firestore:"status"`
	CustomerNote  string                `firestore:"customerNote,omitempty"`
	AdminNote     string                `firestore:"adminNote,omitempty"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	UpdatedAt     time.Time             `firestore:"updatedAt"`
	PaidAt        *time.Time            `firestore:"paidAt,omitempty"`
	ShippedAt     *time.Time            `firestore:"shippedAt,omitempty"`
	DeliveredAt   *time.Time            `firestore:"deliveredAt,omitempty"`
	CancelledAt   *time.Time            `firestore:"cancelledAt,omitempty"`
}

type orderNumberIndexDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Customer:      orderCustomerDocument(order.Customer),
		Items:         make([]orderItemDocument, 0, len(order.Items)),
		Totals:        orderTotalsDocument(order.Totals),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Status:        string(order.Status),
		CustomerNote:  order.CustomerNote,
		AdminNote:     order.AdminNote,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		PaidAt:        order.PaidAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		Customer:      domain.Customer(d.Customer),
		Items:         make([]domain.OrderItem, 0, len(d.Items)),
		Totals:        domain.OrderTotals(d.Totals),
		Currency:      d.Currency,
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Status:        domain.OrderStatus(d.Status),
		CustomerNote:  d.CustomerNote,
		AdminNote:     d.AdminNote,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		PaidAt:        d.PaidAt,
		ShippedAt:     d.ShippedAt,
		DeliveredAt:   d.DeliveredAt,
		CancelledAt:   d.CancelledAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	return order
}

// Insert persists a new order and claims its order number atomically. A
// previously claimed number surfaces as a conflict so the caller can retry
// with a fresh one.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}

	id := strings.TrimSpace(order.ID)
	number := strings.TrimSpace(order.OrderNumber)
	if id == "" || number == "" {
		return errors.New("order repository: id and order number are required")
	}

	orderRef := client.Collection(orderCollection).Doc(id)
	indexRef := client.Collection(orderNumberIndexCollection).Doc(number)
	doc := encodeOrder(order)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(indexRef, orderNumberIndexDocument{
			OrderID:   id,
			CreatedAt: doc.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	})
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByOrderNumber resolves the order-number index and loads the order.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}

	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	indexSnap, err := client.Collection(orderNumberIndexCollection).Doc(number).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	var index orderNumberIndexDocument
	if err := indexSnap.DataTo(&index); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}

	snap, err := client.Collection(orderCollection).Doc(index.OrderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// UpdatePaymentStatus transitions the settlement axis inside a transaction.
// Re-applying the stored status returns the order unchanged.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, orderNumber string, paymentStatus domain.PaymentStatus, at time.Time) (domain.Order, error) {
	return r.mutate(ctx, "orders.update_payment_status", orderNumber, func(doc *orderDocument) (bool, error) {
		if doc.PaymentStatus == string(paymentStatus) {
			return false, nil
		}
		doc.PaymentStatus = string(paymentStatus)
		if paymentStatus == domain.PaymentStatusPaid {
			paidAt := at.UTC()
			doc.PaidAt = &paidAt
		}
		return true, nil
	}, at)
}

// UpdateOrderStatus transitions the fulfillment axis inside a transaction and
// stamps the status-specific timestamp. Re-applying the stored status returns
// the order unchanged. Legality is re-checked against the stored status
// inside the transaction, so a transition racing a concurrent update fails
// with a conflict instead of writing from a stale state.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderNumber string, orderStatus domain.OrderStatus, at time.Time) (domain.Order, error) {
	return r.mutate(ctx, "orders.update_status", orderNumber, func(doc *orderDocument) (bool, error) {
		if doc.Status == string(orderStatus) {
			return false, nil
		}
		if !domain.OrderStatus(doc.Status).CanTransitionTo(orderStatus) {
			return false, status.Errorf(codes.FailedPrecondition, "illegal status transition %s -> %s", doc.Status, orderStatus)
		}
		doc.Status = string(orderStatus)
		stamp := at.UTC()
		switch orderStatus {
		case domain.OrderStatusShipped:
			doc.ShippedAt = &stamp
		case domain.OrderStatusDelivered:
			doc.DeliveredAt = &stamp
		case domain.OrderStatusCancelled:
			doc.CancelledAt = &stamp
		}
		return true, nil
	}, at)
}

func (r *OrderRepository) mutate(ctx context.Context, op string, orderNumber string, apply func(doc *orderDocument) (bool, error), at time.Time) (domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}

	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		indexSnap, err := tx.Get(client.Collection(orderNumberIndexCollection).Doc(number))
		if err != nil {
			return err
		}
		var index orderNumberIndexDocument
		if err := indexSnap.DataTo(&index); err != nil {
			return err
		}

		orderRef := client.Collection(orderCollection).Doc(index.OrderID)
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return status.Error(codes.NotFound, "order document missing for index entry")
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		changed, err := apply(&doc)
		if err != nil {
			return err
		}
		if changed {
			doc.UpdatedAt = at.UTC()
			if err := tx.Set(orderRef, doc); err != nil {
				return err
			}
		}
		updated = doc.toDomain(orderRef.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}
