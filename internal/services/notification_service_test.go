package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type stubMailClient struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (s *stubMailClient) Do(req *http.Request) (*http.Response, error) {
	return s.fn(req)
}

func mailResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}
}

func TestNotificationSendOrderConfirmation(t *testing.T) {
	ctx := context.Background()
	order := pendingOrder("VC-20260829-ABCDEF01")
	order.CustomerNote = `Leave at the door <script>alert("x")</script>`

	var captured orderEmailPayload
	client := &stubMailClient{fn: func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", req.Method)
		}
		if got := req.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("unexpected content type %q", got)
		}
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return mailResponse(http.StatusAccepted), nil
	}}

	svc, err := NewNotificationService(NotificationServiceDeps{
		RelayURL:   "https://mail.internal/send",
		HTTPClient: client,
		Clock:      testClock,
	})
	if err != nil {
		t.Fatalf("new notification service: %v", err)
	}

	if err := svc.SendOrderConfirmation(ctx, order); err != nil {
		t.Fatalf("send order confirmation: %v", err)
	}

	if captured.OrderNumber != order.OrderNumber {
		t.Fatalf("unexpected order number %q", captured.OrderNumber)
	}
	if captured.OrderDate != "August 29, 2026" {
		t.Fatalf("unexpected order date %q", captured.OrderDate)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if !strings.Contains(captured.Total, "17.98") {
		t.Fatalf("expected formatted total, got %q", captured.Total)
	}
	if strings.Contains(captured.CustomerNote, "<script>") {
		t.Fatalf("customer note must be sanitised, got %q", captured.CustomerNote)
	}
}

func TestNotificationRejectsRelayFailure(t *testing.T) {
	ctx := context.Background()
	client := &stubMailClient{fn: func(req *http.Request) (*http.Response, error) {
		return mailResponse(http.StatusBadGateway), nil
	}}

	svc, err := NewNotificationService(NotificationServiceDeps{
		RelayURL:   "https://mail.internal/send",
		HTTPClient: client,
	})
	if err != nil {
		t.Fatalf("new notification service: %v", err)
	}

	if err := svc.SendOrderConfirmation(ctx, pendingOrder("VC-20260829-ABCDEF01")); err == nil {
		t.Fatal("expected an error for non-2xx relay response")
	}
}

func TestNotificationRequiresCustomerEmail(t *testing.T) {
	ctx := context.Background()
	svc, err := NewNotificationService(NotificationServiceDeps{
		RelayURL: "https://mail.internal/send",
		HTTPClient: &stubMailClient{fn: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected without an email address")
			return nil, nil
		}},
	})
	if err != nil {
		t.Fatalf("new notification service: %v", err)
	}

	order := pendingOrder("VC-20260829-ABCDEF01")
	order.Customer.Email = " "
	if err := svc.SendOrderConfirmation(ctx, order); err == nil {
		t.Fatal("expected an error for missing email")
	}
}
