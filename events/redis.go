package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultRedisChannel = "drum-events"

// RedisPublisher fans events out to every instance through a Redis pub/sub channel.
type RedisPublisher struct {
	Client  *redis.Client
	Channel string
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if p.Client == nil {
		return errors.New("redis client is nil")
	}
	ev, err := Encode(topic, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Client.Publish(ctx, p.channel(), b).Err()
}

func (p *RedisPublisher) channel() string {
	if p.Channel == "" {
		return DefaultRedisChannel
	}
	return p.Channel
}

// RunRedisRelay forwards channel messages into the local hub until ctx is done.
func RunRedisRelay(ctx context.Context, client *redis.Client, channel string, hub *Hub, logger *logrus.Logger) error {
	if client == nil {
		return errors.New("redis client is nil")
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := DecodeRelayMessage(msg.Payload)
			if err != nil {
				if logger != nil {
					logger.WithFields(logrus.Fields{"module": "Events", "channel": channel}).Warn("dropping malformed relay message: " + err.Error())
				}
				continue
			}
			hub.Broadcast(ev)
		}
	}
}

func DecodeRelayMessage(raw string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, err
	}
	if ev.Topic == "" {
		return Event{}, errors.New("relay message without topic")
	}
	return ev, nil
}
