package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/velour-cards/checkout-api/internal/threeds"
)

// GatewayLogger defines the logging contract for gateway provider operations.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

type gatewayHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// GatewayProviderConfig configures the card-processing gateway adapter.
type GatewayProviderConfig struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	// Sandbox short-circuits every authorization to an approval without any
	// network call, so the rest of the pipeline can run deterministically.
	Sandbox    bool
	HTTPClient gatewayHTTPClient
	Logger     GatewayLogger
	Clock      func() time.Time
}

// GatewayProvider implements Provider against an external card-processing
// gateway speaking JSON over HTTPS, with 3-D Secure initialization.
type GatewayProvider struct {
	baseURL   string
	apiKey    string
	secretKey string
	sandbox   bool
	client    gatewayHTTPClient
	logger    GatewayLogger
	clock     func() time.Time
}

// NewGatewayProvider constructs a GatewayProvider using the given configuration.
func NewGatewayProvider(cfg GatewayProviderConfig) (*GatewayProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" && !cfg.Sandbox {
		return nil, errors.New("gateway: base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" && !cfg.Sandbox {
		return nil, errors.New("gateway: api key is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &GatewayProvider{
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		secretKey: strings.TrimSpace(cfg.SecretKey),
		sandbox:   cfg.Sandbox,
		client:    client,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Name identifies the provider within the manager registry.
func (p *GatewayProvider) Name() string { return "gateway" }

type gatewayAuthorizeRequest struct {
	ConversationID  string `json:"conversationId"`
	Price           string `json:"price"`
	Currency        string `json:"currency"`
	Installments    int    `json:"installment"`
	CallbackURL     string `json:"callbackUrl"`
	CardHolderName  string `json:"cardHolderName"`
	CardNumber      string `json:"cardNumber"`
	ExpireMonth     string `json:"expireMonth"`
	ExpireYear      string `json:"expireYear"`
	CVC             string `json:"cvc"`
	BuyerName       string `json:"buyerName"`
	BuyerEmail      string `json:"buyerEmail"`
	BuyerPhone      string `json:"buyerPhone"`
	BillingAddress  string `json:"billingAddress"`
	ThreeDSRequired bool   `json:"threeDSRequired"`
}

type gatewayAuthorizeResponse struct {
	Status             string `json:"status"`
	PaymentID          string `json:"paymentId"`
	ThreeDSHTMLContent string `json:"threeDSHtmlContent"`
	ErrorMessage       string `json:"errorMessage"`
}

// Authorize submits one authorization attempt. In sandbox mode it resolves to
// Approved before any instrument data crosses the process boundary.
func (p *GatewayProvider) Authorize(ctx context.Context, req AuthorizationRequest) (AuthResult, error) {
	if p == nil {
		return nil, errors.New("gateway: provider is nil")
	}
	if req.Instrument == nil {
		return nil, errors.New("gateway: instrument is required")
	}

	if p.sandbox {
		p.logger(ctx, "payments.gateway.sandbox_approved", map[string]any{
			"orderNumber": req.OrderNumber,
			"amount":      req.Amount,
		})
		return Approved{Reference: "sandbox-" + req.OrderNumber, TestMode: true}, nil
	}

	installments := req.Installments
	if installments < 1 {
		installments = 1
	}

	payload := gatewayAuthorizeRequest{
		ConversationID:  req.OrderNumber,
		Price:           formatMinorUnits(req.Amount),
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Installments:    installments,
		CallbackURL:     req.CallbackURL,
		CardHolderName:  req.Instrument.HolderName,
		CardNumber:      req.Instrument.Number,
		ExpireMonth:     req.Instrument.ExpireMonth,
		ExpireYear:      req.Instrument.ExpireYear,
		CVC:             req.Instrument.CVV,
		BuyerName:       req.CustomerName,
		BuyerEmail:      req.CustomerEmail,
		BuyerPhone:      req.CustomerPhone,
		BillingAddress:  req.BillingAddress,
		ThreeDSRequired: true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode authorize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payment/3dsecure/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build authorize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("X-Signature", p.sign(body))
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway: authorize request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: read authorize response: %w", err)
	}

	var parsed gatewayAuthorizeResponse
	if len(respBody) > 0 {
		// Tolerate malformed bodies on error statuses; the decline path below
		// falls back to a generic message.
		_ = json.Unmarshal(respBody, &parsed)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !strings.EqualFold(parsed.Status, "success") {
		reason := strings.TrimSpace(parsed.ErrorMessage)
		if reason == "" {
			reason = fmt.Sprintf("payment was declined (status %d)", resp.StatusCode)
		}
		p.logger(ctx, "payments.gateway.declined", map[string]any{
			"orderNumber": req.OrderNumber,
			"httpStatus":  resp.StatusCode,
		})
		return Declined{Reason: reason}, nil
	}

	if content := strings.TrimSpace(parsed.ThreeDSHTMLContent); content != "" {
		html, decoded := threeds.NormalizePayload(content)
		p.logger(ctx, "payments.gateway.challenge_required", map[string]any{
			"orderNumber": req.OrderNumber,
			"decoded":     decoded,
		})
		return ChallengeRequired{HTML: html}, nil
	}

	p.logger(ctx, "payments.gateway.approved", map[string]any{
		"orderNumber": req.OrderNumber,
		"paymentId":   parsed.PaymentID,
	})
	return Approved{Reference: parsed.PaymentID}, nil
}

func (p *GatewayProvider) sign(body []byte) string {
	if p.secretKey == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(p.secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// formatMinorUnits renders a minor-unit amount as the decimal string the
// gateway expects, e.g. 1798 -> "17.98".
func formatMinorUnits(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	value := fmt.Sprintf("%d.%02d", amount/100, amount%100)
	if negative {
		return "-" + value
	}
	return value
}
