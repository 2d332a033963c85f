package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

const eventTypeItemAdded = "cart.item_added"

// PubSubCartEventPublisher publishes cart events to a Pub/Sub topic.
type PubSubCartEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.CartEventPublisher = (*PubSubCartEventPublisher)(nil)

// NewPubSubCartEventPublisher constructs a Pub/Sub backed cart event publisher.
func NewPubSubCartEventPublisher(topic *pubsub.Topic) (*PubSubCartEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub cart event publisher: topic is required")
	}
	return &PubSubCartEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishItemAdded sends the event and waits for the server-assigned message id.
// Messages for one cart scope share an ordering key when the topic has ordering enabled.
func (p *PubSubCartEventPublisher) PublishItemAdded(ctx context.Context, event services.ItemAddedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub cart event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal item added event: %w", err)
	}

	attrs := map[string]string{"eventType": eventTypeItemAdded}
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "scope", event.Scope)
	setAttr(attrs, "productId", event.ProductID)
	attrs["quantity"] = strconv.Itoa(event.Quantity)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.Scope)
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish item added event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic's publish goroutines.
func (p *PubSubCartEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
