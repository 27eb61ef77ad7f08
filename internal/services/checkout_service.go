package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/velour-cards/checkout-api/internal/domain"
	"github.com/velour-cards/checkout-api/internal/payments"
	"github.com/velour-cards/checkout-api/internal/repositories"
)

const (
	orderNumberPrefix = "VC"
	// Crockford base-32: no I, L, O, U, so numbers survive being read aloud
	// and re-typed during cancellation.
	orderNumberAlphabet  = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	orderNumberSuffixLen = 8
	orderNumberAttempts  = 3
)

var (
	// ErrCheckoutInvalidInput signals malformed checkout data other than the card.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutInvalidCard signals the instrument failed authoritative validation.
	ErrCheckoutInvalidCard = errors.New("checkout: invalid card")
	// ErrCheckoutAmountMismatch signals the submitted amount disagrees with the
	// item lines; the server-computed total always wins.
	ErrCheckoutAmountMismatch = errors.New("checkout: amount mismatch")
)

// Authorizer is the narrow slice of the payments manager the checkout
// service depends on.
type Authorizer interface {
	Authorize(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AuthorizationRequest) (payments.AuthResult, error)
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	OrderOps    OrderService
	Payments    Authorizer
	Clock       func() time.Time
	IDGenerator func() string
	// RandomSuffix overrides order-number suffix generation, primarily for tests.
	RandomSuffix func() (string, error)
	CallbackURL  string
	Currency     string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders       repositories.OrderRepository
	orderOps     OrderService
	payments     Authorizer
	clock        func() time.Time
	newID        func() string
	randomSuffix func() (string, error)
	callbackURL  string
	currency     string
	logger       func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.OrderOps == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment authorizer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	suffix := deps.RandomSuffix
	if suffix == nil {
		suffix = randomOrderSuffix
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &checkoutService{
		orders:   deps.Orders,
		orderOps: deps.OrderOps,
		payments: deps.Payments,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		randomSuffix: suffix,
		callbackURL:  strings.TrimSpace(deps.CallbackURL),
		currency:     currency,
		logger:       logger,
	}, nil
}

// CreatePaymentIntent validates the instrument, persists a pending order, and
// runs one authorization attempt. The order always exists before the gateway
// is contacted so every attempt is traceable; a declined authorization leaves
// it pending and unpaid for retry.
func (s *checkoutService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error) {
	defer cmd.Instrument.Wipe()

	if err := s.validateCommand(cmd); err != nil {
		return PaymentIntentResult{}, err
	}

	now := s.clock()
	if err := cmd.Instrument.Validate(now); err != nil {
		return PaymentIntentResult{}, fmt.Errorf("%w: %w", ErrCheckoutInvalidCard, err)
	}

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, domain.OrderItem{
			ID:        strings.TrimSpace(item.ID),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ImageRef:  strings.TrimSpace(item.ImageRef),
		})
	}
	totals := domain.ComputeTotals(items)
	if cmd.Amount != 0 && cmd.Amount != totals.Total {
		return PaymentIntentResult{}, fmt.Errorf("%w: submitted %d, computed %d", ErrCheckoutAmountMismatch, cmd.Amount, totals.Total)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}

	order := domain.Order{
		ID: s.newID(),
		Customer: domain.Customer{
			Name:    strings.TrimSpace(cmd.CustomerName),
			Email:   strings.TrimSpace(cmd.CustomerEmail),
			Phone:   strings.TrimSpace(cmd.CustomerPhone),
			Address: strings.TrimSpace(cmd.Address),
		},
		Items:         items,
		Totals:        totals,
		Currency:      currency,
		PaymentMethod: domain.PaymentMethodCreditCard,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		CustomerNote:  strings.TrimSpace(cmd.CustomerNote),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	persisted, err := s.insertWithFreshNumber(ctx, order, now)
	if err != nil {
		return PaymentIntentResult{}, err
	}

	result, err := s.payments.Authorize(ctx, payments.PaymentContext{
		PreferredProvider: cmd.Provider,
		Currency:          currency,
	}, payments.AuthorizationRequest{
		Amount:         totals.Total,
		Currency:       currency,
		OrderNumber:    persisted.OrderNumber,
		CustomerName:   persisted.Customer.Name,
		CustomerEmail:  persisted.Customer.Email,
		CustomerPhone:  persisted.Customer.Phone,
		BillingAddress: persisted.Customer.Address,
		Instrument:     cmd.Instrument,
		Installments:   cmd.Installments,
		CallbackURL:    s.confirmationURL(persisted.OrderNumber),
		IdempotencyKey: authorizationIdempotencyKey(persisted.OrderNumber),
	})
	if err != nil {
		return PaymentIntentResult{}, fmt.Errorf("checkout: authorize: %w", err)
	}

	switch outcome := result.(type) {
	case payments.Approved:
		if _, err := s.orderOps.MarkPaid(ctx, persisted.OrderNumber); err != nil {
			return PaymentIntentResult{}, err
		}
		s.logger(ctx, "checkout.approved", map[string]any{
			"orderNumber": persisted.OrderNumber,
			"testMode":    outcome.TestMode,
		})
		return PaymentIntentResult{
			Outcome:     PaymentIntentOutcomePaid,
			OrderNumber: persisted.OrderNumber,
			TestMode:    outcome.TestMode,
		}, nil
	case payments.ChallengeRequired:
		s.logger(ctx, "checkout.challenge_required", map[string]any{
			"orderNumber": persisted.OrderNumber,
		})
		return PaymentIntentResult{
			Outcome:            PaymentIntentOutcomeChallenge,
			OrderNumber:        persisted.OrderNumber,
			ThreeDSHTMLContent: outcome.HTML,
		}, nil
	case payments.Declined:
		s.logger(ctx, "checkout.declined", map[string]any{
			"orderNumber": persisted.OrderNumber,
		})
		return PaymentIntentResult{
			Outcome:       PaymentIntentOutcomeDeclined,
			OrderNumber:   persisted.OrderNumber,
			DeclineReason: outcome.Reason,
		}, nil
	default:
		return PaymentIntentResult{}, fmt.Errorf("checkout: unexpected authorization outcome %T", result)
	}
}

// ConfirmPayment is the confirmation-redirect target for the 3-D Secure path.
// Marking paid is idempotent, so replayed redirects are harmless.
func (s *checkoutService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (OrderTracking, error) {
	number := strings.TrimSpace(cmd.OrderNumber)
	if number == "" {
		return OrderTracking{}, fmt.Errorf("%w: order number is required", ErrCheckoutInvalidInput)
	}

	if cmd.Succeeded {
		order, err := s.orderOps.MarkPaid(ctx, number)
		if err != nil {
			return OrderTracking{}, err
		}
		return newOrderTracking(order), nil
	}

	s.logger(ctx, "checkout.confirmation_failed", map[string]any{
		"orderNumber": number,
	})
	return s.orderOps.Get(ctx, number)
}

func (s *checkoutService) validateCommand(cmd CreatePaymentIntentCommand) error {
	if cmd.Instrument == nil {
		return fmt.Errorf("%w: card instrument is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %q quantity must be positive", ErrCheckoutInvalidInput, item.ID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item %q unit price must not be negative", ErrCheckoutInvalidInput, item.ID)
		}
	}
	if strings.TrimSpace(cmd.CustomerName) == "" {
		return fmt.Errorf("%w: customer name is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerEmail) == "" || !strings.Contains(cmd.CustomerEmail, "@") {
		return fmt.Errorf("%w: customer email is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.Address) == "" {
		return fmt.Errorf("%w: delivery address is required", ErrCheckoutInvalidInput)
	}
	return nil
}

// insertWithFreshNumber claims a server-generated order number. The suffix is
// cryptographically random, so a conflict means a rare collision with an
// existing number; a fresh number is drawn up to orderNumberAttempts times
// before the failure is treated as a store problem.
func (s *checkoutService) insertWithFreshNumber(ctx context.Context, order domain.Order, now time.Time) (domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		suffix, err := s.randomSuffix()
		if err != nil {
			return domain.Order{}, fmt.Errorf("checkout: generate order number: %w", err)
		}
		order.OrderNumber = fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.Format("20060102"), suffix)

		err = s.orders.Insert(ctx, order)
		if err == nil {
			return order, nil
		}
		lastErr = err

		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			s.logger(ctx, "checkout.order_number_collision", map[string]any{
				"orderNumber": order.OrderNumber,
				"attempt":     attempt + 1,
			})
			continue
		}
		break
	}
	return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderStoreUnavailable, lastErr)
}

func (s *checkoutService) confirmationURL(orderNumber string) string {
	if s.callbackURL == "" {
		return ""
	}
	return fmt.Sprintf("%s?order_number=%s", s.callbackURL, orderNumber)
}

func authorizationIdempotencyKey(orderNumber string) string {
	sum := sha256.Sum256([]byte("authorize:" + orderNumber))
	return hex.EncodeToString(sum[:])
}

func randomOrderSuffix() (string, error) {
	buf := make([]byte, orderNumberSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, orderNumberSuffixLen)
	for i, b := range buf {
		out[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return string(out), nil
}
