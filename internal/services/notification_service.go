package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/velour-cards/checkout-api/internal/domain"
)

type mailHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NotificationServiceDeps bundles collaborators required to construct the notification service.
type NotificationServiceDeps struct {
	RelayURL   string
	HTTPClient mailHTTPClient
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	relayURL  string
	client    mailHTTPClient
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewNotificationService wires dependencies into a concrete NotificationService implementation.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	relayURL := strings.TrimSpace(deps.RelayURL)
	if relayURL == "" {
		return nil, errors.New("notification service: relay url is required")
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		relayURL: relayURL,
		client:   client,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

type orderEmailItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type orderEmailPayload struct {
	CustomerName    string           `json:"customer_name"`
	CustomerEmail   string           `json:"customer_email"`
	OrderNumber     string           `json:"order_number"`
	OrderDate       string           `json:"order_date"`
	Items           []orderEmailItem `json:"items"`
	Subtotal        string           `json:"subtotal"`
	Shipping        string           `json:"shipping"`
	Total           string           `json:"total"`
	ShippingAddress string           `json:"shipping_address"`
	CustomerNote    string           `json:"customer_note,omitempty"`
}

// SendOrderConfirmation renders the confirmation summary and posts it to the
// mail relay. Callers treat failures as log-only; nothing here blocks the
// checkout confirmation.
func (s *notificationService) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	email := strings.TrimSpace(order.Customer.Email)
	if email == "" {
		return errors.New("notification service: order has no customer email")
	}

	formatAmount := amountFormatter(order.Currency)

	payload := orderEmailPayload{
		CustomerName:    strings.TrimSpace(order.Customer.Name),
		CustomerEmail:   email,
		OrderNumber:     order.OrderNumber,
		OrderDate:       order.CreatedAt.UTC().Format("January 2, 2006"),
		Items:           make([]orderEmailItem, 0, len(order.Items)),
		Subtotal:        formatAmount(order.Totals.Subtotal),
		Shipping:        formatAmount(order.Totals.Shipping),
		Total:           formatAmount(order.Totals.Total),
		ShippingAddress: s.sanitizer.Sanitize(order.Customer.Address),
		CustomerNote:    s.sanitizer.Sanitize(order.CustomerNote),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderEmailItem{
			Name:      s.sanitizer.Sanitize(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: formatAmount(item.UnitPrice),
			LineTotal: formatAmount(item.LineTotal()),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notification service: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notification service: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification service: send order email: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification service: mail relay returned status %d", resp.StatusCode)
	}

	s.logger(ctx, "notification.order_email.sent", map[string]any{
		"orderNumber": order.OrderNumber,
	})
	return nil
}

// amountFormatter renders minor-unit amounts with the currency symbol, e.g.
// 1798 USD -> "$17.98".
func amountFormatter(code string) func(int64) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		unit = currency.USD
	}
	printer := message.NewPrinter(language.English)
	return func(amount int64) string {
		return printer.Sprintf("%v", currency.NarrowSymbol(unit.Amount(float64(amount)/100)))
	}
}
