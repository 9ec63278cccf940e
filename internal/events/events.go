package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind classifies a loop event.
type Kind string

const (
	KindLoopStarted Kind = "loop-started"
	KindLoopStopped Kind = "loop-stopped"
	KindAction      Kind = "action"
	KindError       Kind = "error"
)

// Event is one observable moment of the agent loop.
type Event struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Kind       Kind      `json:"kind"`
	Connection string    `json:"connection,omitempty"`
	Action     string    `json:"action,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OK         bool      `json:"ok"`
	Timestamp  time.Time `json:"timestamp"`
}

const stream = "yukina:events"

// Bus publishes loop events to a Redis Stream. It is an optional backend;
// the daemon runs without it.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies it is reachable.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish appends one event to the stream. A zero ID is assigned here.
func (b *Bus) Publish(ctx context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published event",
		zap.String("agent", evt.Agent),
		zap.String("kind", string(evt.Kind)),
		zap.String("action", evt.Action))
	return nil
}

// Recent returns the newest events first, up to limit.
func (b *Bus) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := b.rdb.XRevRangeN(ctx, stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stream, err)
	}

	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var evt Event
		if json.Unmarshal([]byte(data), &evt) == nil {
			events = append(events, evt)
		}
	}
	return events, nil
}

// Subscribe emits events appended after the call. Cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var evt Event
					if json.Unmarshal([]byte(data), &evt) == nil {
						ch <- &evt
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
