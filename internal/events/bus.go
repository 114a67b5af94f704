package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/edvin/hosting/internal/config"
)

// Event is one typed occurrence published on the bus. Type is one of the
// deployment.* / environment.* event names; Payload carries the event's
// own JSON-serializable detail struct.
type Event struct {
	Type    string          `json:"type"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

const channel = "hosting.events"

// Bus is a Redis-backed pub/sub channel connecting the core-api and worker
// processes, which run as separate binaries sharing only the database.
type Bus struct {
	rdb *goredis.Client
}

// NewBus dials Redis and verifies connectivity before returning.
func NewBus(cfg *config.Config) (*Bus, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.EventsRedisAddr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.EventsRedisAddr, err)
	}

	return &Bus{rdb: rdb}, nil
}

// Publish marshals a typed payload and publishes it under the event's type.
func Publish[T any](ctx context.Context, b *Bus, eventType, userID string, payload T) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s payload: %w", eventType, err)
	}
	evt := Event{Type: eventType, UserID: userID, Payload: raw}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}
	return b.rdb.Publish(ctx, channel, data).Err()
}

// Subscribe starts a background goroutine delivering every published event
// to onEvent until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, onEvent func(Event)) error {
	sub := b.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
					continue
				}
				onEvent(evt)
			}
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	return b.rdb.Close()
}
