package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/velour-cards/checkout-api/internal/threeds"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
		}
	}

	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name identifies the provider within the manager registry.
func (p *StripeProvider) Name() string { return "stripe" }

// Authorize creates and confirms a Payment Intent in one call. An intent left
// in requires_action with a redirect becomes a ChallengeRequired outcome; card
// errors become Declined with Stripe's shopper-safe message.
func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizationRequest) (AuthResult, error) {
	if p == nil {
		return nil, errors.New("stripe: provider is nil")
	}
	if req.Instrument == nil {
		return nil, errors.New("stripe: instrument is required")
	}

	expMonth, err := strconv.ParseInt(strings.TrimSpace(req.Instrument.ExpireMonth), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stripe: parse expiry month: %w", err)
	}
	expYear, err := strconv.ParseInt(strings.TrimSpace(req.Instrument.ExpireYear), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stripe: parse expiry year: %w", err)
	}
	if expYear < 100 {
		expYear += 2000
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Confirm:  stripe.Bool(true),
		Metadata: map[string]string{
			"order_number": req.OrderNumber,
		},
	}
	params.Context = ctx
	// Raw card fields ride as extra form values so the card never needs a
	// separately created payment method.
	params.AddExtra("payment_method_data[type]", "card")
	params.AddExtra("payment_method_data[card][number]", req.Instrument.Number)
	params.AddExtra("payment_method_data[card][exp_month]", strconv.FormatInt(expMonth, 10))
	params.AddExtra("payment_method_data[card][exp_year]", strconv.FormatInt(expYear, 10))
	params.AddExtra("payment_method_data[card][cvc]", req.Instrument.CVV)
	params.AddExtra("payment_method_data[billing_details][name]", req.CustomerName)
	params.AddExtra("payment_method_data[billing_details][email]", req.CustomerEmail)
	if phone := strings.TrimSpace(req.CustomerPhone); phone != "" {
		params.AddExtra("payment_method_data[billing_details][phone]", phone)
	}
	if url := strings.TrimSpace(req.CallbackURL); url != "" {
		params.ReturnURL = stripe.String(url)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			reason := strings.TrimSpace(stripeErr.Msg)
			if reason == "" {
				reason = "your card was declined"
			}
			p.logger(ctx, "payments.stripe.declined", map[string]any{
				"orderNumber": req.OrderNumber,
				"declineCode": stripeErr.DeclineCode,
			})
			return Declined{Reason: reason}, nil
		}
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusProcessing:
		p.logger(ctx, "payments.stripe.approved", map[string]any{
			"orderNumber":   req.OrderNumber,
			"paymentIntent": intent.ID,
			"status":        intent.Status,
		})
		return Approved{Reference: intent.ID}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
			html, err := threeds.BuildRedirectDocument(intent.NextAction.RedirectToURL.URL)
			if err != nil {
				return nil, fmt.Errorf("stripe: build challenge redirect: %w", err)
			}
			p.logger(ctx, "payments.stripe.challenge_required", map[string]any{
				"orderNumber":   req.OrderNumber,
				"paymentIntent": intent.ID,
			})
			return ChallengeRequired{HTML: html}, nil
		}
		return Declined{Reason: "authentication is required but no challenge was provided"}, nil
	default:
		p.logger(ctx, "payments.stripe.declined", map[string]any{
			"orderNumber":   req.OrderNumber,
			"paymentIntent": intent.ID,
			"status":        intent.Status,
		})
		reason := "your card was declined"
		if intent.LastPaymentError != nil && strings.TrimSpace(intent.LastPaymentError.Msg) != "" {
			reason = strings.TrimSpace(intent.LastPaymentError.Msg)
		}
		return Declined{Reason: reason}, nil
	}
}
