// Package events emits checkout lifecycle notifications. Downstream consumers
// (order fulfilment, analytics) subscribe to the topic; the checkout flow never
// blocks on them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// Event names published on the checkout topic.
const (
	TypeShippingSelected = "checkout.shipping_selected"
	TypeSessionEnsured   = "checkout.session_ensured"
	TypeRedirectStarted  = "checkout.redirect_started"
	TypeOrderPlaced      = "checkout.order_placed"
	TypeSubmitFailed     = "checkout.submit_failed"
)

// CheckoutEvent is the message body published for every checkout transition.
type CheckoutEvent struct {
	Type       string    `json:"type"`
	CartID     string    `json:"cartId"`
	ProviderID string    `json:"providerId,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers checkout events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishCheckoutEvent(ctx context.Context, event CheckoutEvent) (string, error)
}

// PubSubPublisher publishes checkout events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed checkout event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCheckoutEvent enqueues the event on the configured topic and returns
// the server-assigned message id.
func (p *PubSubPublisher) PublishCheckoutEvent(ctx context.Context, event CheckoutEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub checkout publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal checkout event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "cartId", event.CartID)
	setAttr(attrs, "providerId", event.ProviderID)
	setAttr(attrs, "orderId", event.OrderID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish checkout event: %w", err)
	}
	return id, nil
}

// NopPublisher discards every event. Used when no topic is configured.
type NopPublisher struct{}

// PublishCheckoutEvent implements Publisher.
func (NopPublisher) PublishCheckoutEvent(context.Context, CheckoutEvent) (string, error) {
	return "", nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
