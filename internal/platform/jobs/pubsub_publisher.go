package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/velour-cards/checkout-api/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

type orderEventMessage struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PublishOrderEvent enqueues an order event message on the configured topic.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(orderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "currentStatus", event.CurrentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// DefaultCartClearDelay is how long the storefront waits before clearing the
// cart, so the confirmation page can still render the purchased items.
const DefaultCartClearDelay = 3 * time.Second

// PubSubCartClearScheduler schedules delayed cart clears through a Pub/Sub topic.
type PubSubCartClearScheduler struct {
	topic   *pubsub.Topic
	delay   time.Duration
	clock   func() time.Time
	marshal func(any) ([]byte, error)
}

// CartClearOption customises the cart clear scheduler.
type CartClearOption func(*PubSubCartClearScheduler)

// WithCartClearDelay overrides the default clear delay.
func WithCartClearDelay(delay time.Duration) CartClearOption {
	return func(s *PubSubCartClearScheduler) {
		if delay > 0 {
			s.delay = delay
		}
	}
}

// WithCartClearClock overrides the scheduler clock, primarily for tests.
func WithCartClearClock(clock func() time.Time) CartClearOption {
	return func(s *PubSubCartClearScheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPubSubCartClearScheduler constructs a Pub/Sub backed cart clear scheduler.
func NewPubSubCartClearScheduler(topic *pubsub.Topic, opts ...CartClearOption) (*PubSubCartClearScheduler, error) {
	if topic == nil {
		return nil, errors.New("pubsub cart clear scheduler: topic is required")
	}
	scheduler := &PubSubCartClearScheduler{
		topic:   topic,
		delay:   DefaultCartClearDelay,
		clock:   time.Now,
		marshal: json.Marshal,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler, nil
}

var _ services.CartClearScheduler = (*PubSubCartClearScheduler)(nil)

type cartClearMessage struct {
	OrderNumber string    `json:"orderNumber"`
	ClearAfter  time.Time `json:"clearAfter"`
	QueuedAt    time.Time `json:"queuedAt"`
}

// ScheduleCartClear enqueues a clear instruction carrying the earliest time the
// consumer may act on it.
func (s *PubSubCartClearScheduler) ScheduleCartClear(ctx context.Context, orderNumber string) error {
	if s == nil || s.topic == nil {
		return errors.New("pubsub cart clear scheduler: not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return errors.New("pubsub cart clear scheduler: order number is required")
	}

	now := s.clock().UTC()
	data, err := s.marshal(cartClearMessage{
		OrderNumber: number,
		ClearAfter:  now.Add(s.delay),
		QueuedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("marshal cart clear: %w", err)
	}

	attrs := map[string]string{
		"orderNumber": number,
		"delayMillis": fmt.Sprintf("%d", s.delay.Milliseconds()),
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish cart clear: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
