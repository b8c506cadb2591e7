// Package events fans scan outcomes out to live subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	TopicDrumStatus  = "drumStatus"
	TopicOrderUpdate = "orderUpdate"
)

// Notifier publishes a payload on a topic. Implementations must not assume delivery.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type NotifierFunc func(ctx context.Context, topic string, payload any) error

func (f NotifierFunc) Publish(ctx context.Context, topic string, payload any) error {
	return f(ctx, topic, payload)
}

type DrumStatusEvent struct {
	DrumId    int    `json:"drumId"`
	NewStatus string `json:"newStatus"`
}

type OrderUpdateEvent struct {
	OrderId             int `json:"orderId"`
	DrumId              int `json:"drumId"`
	NewQuantityReceived int `json:"newQuantityReceived"`
}

// Event is an encoded payload ready for the wire.
type Event struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func Encode(topic string, payload any) (Event, error) {
	if topic == "" {
		return Event{}, errors.New("topic is required")
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Event{Topic: topic, Data: raw}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Topic: topic, Data: b}, nil
}
