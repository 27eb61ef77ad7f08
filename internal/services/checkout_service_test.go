package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/velour-cards/checkout-api/internal/domain"
	"github.com/velour-cards/checkout-api/internal/payments"
)

type stubAuthorizer struct {
	calls   int
	lastReq payments.AuthorizationRequest
	result  payments.AuthResult
	err     error
}

func (s *stubAuthorizer) Authorize(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AuthorizationRequest) (payments.AuthResult, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// memoryOrderRepo is a map-backed order store keyed by order number, with the
// same conflict semantics as the Firestore implementation.
type memoryOrderRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: make(map[string]domain.Order)}
}

func (m *memoryOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.OrderNumber]; exists {
		return &repoError{err: errors.New("order number already claimed"), conflict: true}
	}
	m.orders[order.OrderNumber] = order
	return nil
}

func (m *memoryOrderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderNumber]
	if !ok {
		return domain.Order{}, &repoError{err: errors.New("order not found"), notFound: true}
	}
	return order, nil
}

func (m *memoryOrderRepo) UpdatePaymentStatus(ctx context.Context, orderNumber string, status domain.PaymentStatus, at time.Time) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderNumber]
	if !ok {
		return domain.Order{}, &repoError{err: errors.New("order not found"), notFound: true}
	}
	if order.PaymentStatus != status {
		order.PaymentStatus = status
		order.UpdatedAt = at
		if status == domain.PaymentStatusPaid {
			paidAt := at
			order.PaidAt = &paidAt
		}
		m.orders[orderNumber] = order
	}
	return order, nil
}

func (m *memoryOrderRepo) UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderNumber]
	if !ok {
		return domain.Order{}, &repoError{err: errors.New("order not found"), notFound: true}
	}
	if order.Status != status {
		order.Status = status
		order.UpdatedAt = at
		m.orders[orderNumber] = order
	}
	return order, nil
}

func validInstrument() *payments.CardInstrument {
	return &payments.CardInstrument{
		Number:      "5528790000000008",
		HolderName:  "Jordan Reyes",
		ExpireMonth: "12",
		ExpireYear:  "30",
		CVV:         "123",
	}
}

func checkoutCommand() CreatePaymentIntentCommand {
	return CreatePaymentIntentCommand{
		Currency:      "USD",
		CustomerName:  "Jordan Reyes",
		CustomerEmail: "jordan@example.com",
		CustomerPhone: "+15550100",
		Address:       "12 Garden Lane, Springfield",
		Items: []CheckoutItemInput{
			{ID: "itm_1", Name: "Classic Card Set", UnitPrice: 899, Quantity: 2},
		},
		Instrument: validInstrument(),
	}
}

func newCheckoutFixture(t *testing.T, repo *memoryOrderRepo, authorizer *stubAuthorizer, suffixes []string) CheckoutService {
	t.Helper()

	orderSvc, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: testClock})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	var next int
	deps := CheckoutServiceDeps{
		Orders:      repo,
		OrderOps:    orderSvc,
		Payments:    authorizer,
		Clock:       testClock,
		CallbackURL: "https://shop.example.com/checkout/confirm",
	}
	if len(suffixes) > 0 {
		deps.RandomSuffix = func() (string, error) {
			suffix := suffixes[next%len(suffixes)]
			next++
			return suffix, nil
		}
	}

	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCheckoutSandboxPurchaseEndsPaidAndPending(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	authorizer := &stubAuthorizer{result: payments.Approved{Reference: "sandbox-ref", TestMode: true}}
	svc := newCheckoutFixture(t, repo, authorizer, []string{"ABCDEF01"})

	result, err := svc.CreatePaymentIntent(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("create payment intent: %v", err)
	}

	if result.Outcome != PaymentIntentOutcomePaid {
		t.Fatalf("expected paid outcome, got %q", result.Outcome)
	}
	if !result.TestMode {
		t.Fatal("expected sandbox approval to flag test mode")
	}
	if result.OrderNumber != "VC-20260829-ABCDEF01" {
		t.Fatalf("unexpected order number %q", result.OrderNumber)
	}

	stored, err := repo.FindByOrderNumber(ctx, result.OrderNumber)
	if err != nil {
		t.Fatalf("find stored order: %v", err)
	}
	if stored.Totals.Subtotal != 1798 || stored.Totals.Total != 1798 {
		t.Fatalf("expected 899x2 to total 1798, got %+v", stored.Totals)
	}
	if stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment status paid, got %q", stored.PaymentStatus)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("payment must not advance fulfillment, got %q", stored.Status)
	}

	if authorizer.lastReq.Amount != 1798 {
		t.Fatalf("expected authorization amount 1798, got %d", authorizer.lastReq.Amount)
	}
	if !strings.Contains(authorizer.lastReq.CallbackURL, "order_number=VC-20260829-ABCDEF01") {
		t.Fatalf("callback url must carry the order number, got %q", authorizer.lastReq.CallbackURL)
	}
}

func TestCheckoutRejectsInvalidCardBeforePersisting(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	authorizer := &stubAuthorizer{result: payments.Approved{}}
	svc := newCheckoutFixture(t, repo, authorizer, nil)

	cmd := checkoutCommand()
	cmd.Instrument.Number = "5528790000000009"

	_, err := svc.CreatePaymentIntent(ctx, cmd)
	if !errors.Is(err, ErrCheckoutInvalidCard) {
		t.Fatalf("expected ErrCheckoutInvalidCard, got %v", err)
	}
	if len(repo.orders) != 0 {
		t.Fatal("invalid cards must be rejected before any order is stored")
	}
	if authorizer.calls != 0 {
		t.Fatal("invalid cards must never reach the gateway")
	}
}

func TestCheckoutRejectsAmountMismatch(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	authorizer := &stubAuthorizer{result: payments.Approved{}}
	svc := newCheckoutFixture(t, repo, authorizer, nil)

	cmd := checkoutCommand()
	cmd.Amount = 1700

	_, err := svc.CreatePaymentIntent(ctx, cmd)
	if !errors.Is(err, ErrCheckoutAmountMismatch) {
		t.Fatalf("expected ErrCheckoutAmountMismatch, got %v", err)
	}
	if authorizer.calls != 0 {
		t.Fatal("mismatched amounts must never reach the gateway")
	}
}

func TestCheckoutRetriesOrderNumberCollision(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	repo.orders["VC-20260829-TAKEN001"] = pendingOrder("VC-20260829-TAKEN001")
	repo.orders["VC-20260829-TAKEN002"] = pendingOrder("VC-20260829-TAKEN002")

	authorizer := &stubAuthorizer{result: payments.Approved{Reference: "ref"}}
	svc := newCheckoutFixture(t, repo, authorizer, []string{"TAKEN001", "TAKEN002", "FRESH003"})

	result, err := svc.CreatePaymentIntent(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("create payment intent: %v", err)
	}
	if result.OrderNumber != "VC-20260829-FRESH003" {
		t.Fatalf("expected a fresh number after collisions, got %q", result.OrderNumber)
	}
	if authorizer.calls != 1 {
		t.Fatalf("expected a single authorization, got %d", authorizer.calls)
	}
}

func TestCheckoutExhaustedCollisionsSurfaceAsStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	for _, suffix := range []string{"TAKEN001", "TAKEN002", "TAKEN003"} {
		number := "VC-20260829-" + suffix
		repo.orders[number] = pendingOrder(number)
	}

	authorizer := &stubAuthorizer{result: payments.Approved{}}
	svc := newCheckoutFixture(t, repo, authorizer, []string{"TAKEN001", "TAKEN002", "TAKEN003"})

	_, err := svc.CreatePaymentIntent(ctx, checkoutCommand())
	if !errors.Is(err, ErrOrderStoreUnavailable) {
		t.Fatalf("expected ErrOrderStoreUnavailable, got %v", err)
	}
	if authorizer.calls != 0 {
		t.Fatal("failed persistence must never reach the gateway")
	}
}

func TestCheckoutChallengeLeavesOrderUnpaid(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	authorizer := &stubAuthorizer{result: payments.ChallengeRequired{HTML: "<form id=\"challenge\"></form>"}}
	svc := newCheckoutFixture(t, repo, authorizer, []string{"ABCDEF01"})

	result, err := svc.CreatePaymentIntent(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("create payment intent: %v", err)
	}
	if result.Outcome != PaymentIntentOutcomeChallenge {
		t.Fatalf("expected challenge outcome, got %q", result.Outcome)
	}
	if result.ThreeDSHTMLContent == "" {
		t.Fatal("expected challenge markup to be returned")
	}

	stored, err := repo.FindByOrderNumber(ctx, result.OrderNumber)
	if err != nil {
		t.Fatalf("find stored order: %v", err)
	}
	if stored.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("challenge must leave the order unpaid, got %q", stored.PaymentStatus)
	}
}

func TestCheckoutDeclineKeepsOrderPendingForRetry(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	authorizer := &stubAuthorizer{result: payments.Declined{Reason: "insufficient funds"}}
	svc := newCheckoutFixture(t, repo, authorizer, []string{"ABCDEF01"})

	result, err := svc.CreatePaymentIntent(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("a decline is an outcome, not an error: %v", err)
	}
	if result.Outcome != PaymentIntentOutcomeDeclined {
		t.Fatalf("expected declined outcome, got %q", result.Outcome)
	}
	if result.DeclineReason != "insufficient funds" {
		t.Fatalf("decline reason must pass through verbatim, got %q", result.DeclineReason)
	}

	stored, err := repo.FindByOrderNumber(ctx, result.OrderNumber)
	if err != nil {
		t.Fatalf("find stored order: %v", err)
	}
	if stored.PaymentStatus != domain.PaymentStatusPending || stored.Status != domain.OrderStatusPending {
		t.Fatalf("declined orders stay pending and unpaid, got %q/%q", stored.PaymentStatus, stored.Status)
	}
}

func TestCheckoutWipesInstrumentAfterAuthorization(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	authorizer := &stubAuthorizer{result: payments.Approved{}}
	svc := newCheckoutFixture(t, repo, authorizer, []string{"ABCDEF01"})

	cmd := checkoutCommand()
	instrument := cmd.Instrument

	if _, err := svc.CreatePaymentIntent(ctx, cmd); err != nil {
		t.Fatalf("create payment intent: %v", err)
	}
	if instrument.Number != "" || instrument.CVV != "" || instrument.HolderName != "" {
		t.Fatal("card data must be wiped once the attempt finishes")
	}
}

func TestCheckoutConfirmPaymentMarksPaidOnce(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	order := pendingOrder("VC-20260829-ABCDEF01")
	repo.orders[order.OrderNumber] = order

	authorizer := &stubAuthorizer{result: payments.Approved{}}
	svc := newCheckoutFixture(t, repo, authorizer, nil)

	first, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderNumber: order.OrderNumber, Succeeded: true})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if first.Order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid after confirmation, got %q", first.Order.PaymentStatus)
	}

	second, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderNumber: order.OrderNumber, Succeeded: true})
	if err != nil {
		t.Fatalf("replayed confirmation must be harmless: %v", err)
	}
	if second.Order.UpdatedAt != first.Order.UpdatedAt {
		t.Fatal("replayed confirmation must not rewrite the order")
	}
}

func TestCheckoutConfirmPaymentFailureLeavesOrderUnpaid(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryOrderRepo()
	order := pendingOrder("VC-20260829-ABCDEF01")
	repo.orders[order.OrderNumber] = order

	authorizer := &stubAuthorizer{result: payments.Approved{}}
	svc := newCheckoutFixture(t, repo, authorizer, nil)

	tracking, err := svc.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderNumber: order.OrderNumber, Succeeded: false})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if tracking.Order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("failed confirmation must leave the order unpaid, got %q", tracking.Order.PaymentStatus)
	}
}
