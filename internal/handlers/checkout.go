package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velour-cards/checkout-api/internal/payments"
	"github.com/velour-cards/checkout-api/internal/platform/httpx"
	"github.com/velour-cards/checkout-api/internal/services"
	"github.com/velour-cards/checkout-api/internal/threeds"
)

const (
	maxCheckoutRequestBody = 16 * 1024
	relayRoutePath         = "/api/checkout/3ds/relay"
	defaultChallengeTTL    = 15 * time.Minute
)

// CheckoutHandlers exposes the payment-intent and 3-D Secure relay endpoints.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	limiter     rateLimiter
	challenges  *challengeStore
	settleDelay time.Duration
}

// CheckoutHandlerOption customises checkout handler construction.
type CheckoutHandlerOption func(*CheckoutHandlers)

// WithCheckoutRateLimit guards the payment-intent endpoint with a per-client
// windowed limiter.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, time.Now)
	}
}

// WithChallengeTTL overrides how long a pending challenge document is retained.
func WithChallengeTTL(ttl time.Duration) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		if ttl > 0 {
			h.challenges.ttl = ttl
		}
	}
}

// WithChallengeClock overrides the challenge store time source, primarily for tests.
func WithChallengeClock(clock func() time.Time) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		if clock != nil {
			h.challenges.clock = clock
		}
	}
}

// WithSettleDelay overrides the relay auto-submit delay.
func WithSettleDelay(delay time.Duration) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		if delay > 0 {
			h.settleDelay = delay
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers over the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutHandlerOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkout:    checkout,
		challenges:  newChallengeStore(defaultChallengeTTL, time.Now),
		settleDelay: threeds.DefaultSettleDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment-intent", h.createPaymentIntent)
	r.Get("/3ds/relay", h.relayChallenge)
}

type paymentIntentRequest struct {
	Amount       int64            `json:"amount"`
	Currency     string           `json:"currency"`
	Customer     checkoutCustomer `json:"customer"`
	Note         string           `json:"note"`
	Items        []checkoutItem   `json:"items"`
	Card         checkoutCard     `json:"card"`
	Installments int              `json:"installments"`
	Provider     string           `json:"provider"`
}

type checkoutCustomer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type checkoutItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image"`
}

type checkoutCard struct {
	Number      string `json:"number"`
	HolderName  string `json:"holder_name"`
	ExpireMonth string `json:"expire_month"`
	ExpireYear  string `json:"expire_year"`
	CVV         string `json:"cvv"`
}

type paymentIntentResponse struct {
	Status             string `json:"status"`
	OrderNumber        string `json:"order_number"`
	TestMode           bool   `json:"test_mode,omitempty"`
	ThreeDSHTMLContent string `json:"threeDSHtmlContent,omitempty"`
	RelayURL           string `json:"relay_url,omitempty"`
}

func (h *CheckoutHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req paymentIntentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := make([]services.CheckoutItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutItemInput{
			ID:        item.ID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			ImageRef:  item.Image,
		})
	}

	instrument := &payments.CardInstrument{
		Number:       req.Card.Number,
		HolderName:   req.Card.HolderName,
		ExpireMonth:  req.Card.ExpireMonth,
		ExpireYear:   req.Card.ExpireYear,
		CVV:          req.Card.CVV,
		Installments: req.Installments,
	}

	result, err := h.checkout.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		CustomerPhone: req.Customer.Phone,
		Address:       req.Customer.Address,
		CustomerNote:  req.Note,
		Items:         items,
		Instrument:    instrument,
		Installments:  req.Installments,
		Provider:      req.Provider,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	switch result.Outcome {
	case services.PaymentIntentOutcomePaid:
		writeJSONResponse(w, http.StatusOK, paymentIntentResponse{
			Status:      "paid",
			OrderNumber: result.OrderNumber,
			TestMode:    result.TestMode,
		})
	case services.PaymentIntentOutcomeChallenge:
		normalized, _ := threeds.NormalizePayload(result.ThreeDSHTMLContent)
		h.challenges.Put(result.OrderNumber, normalized)
		writeJSONResponse(w, http.StatusOK, paymentIntentResponse{
			Status:             "challenge",
			OrderNumber:        result.OrderNumber,
			ThreeDSHTMLContent: normalized,
			RelayURL:           relayRoutePath + "?order_number=" + result.OrderNumber,
		})
	case services.PaymentIntentOutcomeDeclined:
		httpx.WriteError(ctx, w, httpx.NewError("payment_declined", result.DeclineReason, http.StatusPaymentRequired).
			WithDetails(map[string]any{"order_number": result.OrderNumber}))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected authorization outcome", http.StatusInternalServerError))
	}
}

// relayChallenge serves the auto-submitting relay document for a pending
// challenge. Each stored challenge is consumed on first read.
func (h *CheckoutHandlers) relayChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderNumber := strings.TrimSpace(r.URL.Query().Get("order_number"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_number query parameter is required", http.StatusBadRequest))
		return
	}

	payload, ok := h.challenges.Take(orderNumber)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("challenge_not_found", "no pending challenge for this order", http.StatusNotFound))
		return
	}

	// Hosted-URL challenges arrive as complete self-navigating documents
	// with nothing to submit; only form payloads get the auto-submit wrapper.
	doc := payload
	if threeds.ContainsForm(payload) {
		var err error
		doc, err = threeds.RelayDocument(payload, h.settleDelay)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("challenge_invalid", "challenge payload could not be rendered", http.StatusUnprocessableEntity))
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

type challengeEntry struct {
	payload string
	expires time.Time
}

// challengeStore keeps pending challenge documents keyed by order number.
// Entries survive exactly one read so a relay page cannot be replayed.
type challengeStore struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]challengeEntry
}

func newChallengeStore(ttl time.Duration, clock func() time.Time) *challengeStore {
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &challengeStore{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]challengeEntry),
	}
}

func (s *challengeStore) Put(orderNumber, payload string) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" || strings.TrimSpace(payload) == "" {
		return
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.entries[orderNumber] = challengeEntry{payload: payload, expires: now.Add(s.ttl)}
}

func (s *challengeStore) Take(orderNumber string) (string, bool) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[orderNumber]
	if !ok {
		return "", false
	}
	delete(s.entries, orderNumber)
	if now.After(entry.expires) {
		return "", false
	}
	return entry.payload, true
}

func (s *challengeStore) pruneLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, key)
		}
	}
}
