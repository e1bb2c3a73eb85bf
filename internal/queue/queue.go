package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TypeSessionCompleted is published once an attendance session commits.
const TypeSessionCompleted = "session.completed"

// Message is the envelope carried by every backend.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// SessionCompleted describes a committed attendance session.
type SessionCompleted struct {
	SessionID   string    `json:"session_id"`
	ClassID     string    `json:"class_id"`
	SessionDate string    `json:"session_date"`
	Present     int       `json:"present"`
	Absent      int       `json:"absent"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewSessionCompleted wraps evt in a message envelope.
func NewSessionCompleted(evt SessionCompleted) (Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return Message{}, fmt.Errorf("encode session event: %w", err)
	}
	return Message{Type: TypeSessionCompleted, Body: body}, nil
}

// SessionCompleted decodes the body of a session.completed message.
func (m Message) SessionCompleted() (SessionCompleted, error) {
	var evt SessionCompleted
	if m.Type != TypeSessionCompleted {
		return evt, fmt.Errorf("unexpected message type %q", m.Type)
	}
	if err := json.Unmarshal(m.Body, &evt); err != nil {
		return evt, fmt.Errorf("decode session event: %w", err)
	}
	return evt, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel that is closed when ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len reports the number of buffered messages.
func (q *InMemory) Len() int { return len(q.ch) }

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
	block  time.Duration
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "rollcall:sessions"
	}
	return &RedisQueue{client: client, key: key, block: 5 * time.Second}
}

// Publish enqueues a message as JSON.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume streams messages using BRPOP. Undecodable entries are logged and dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.block, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					logrus.WithError(err).Warn("queue: brpop failed")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				logrus.WithError(err).WithField("queue", q.key).Warn("queue: dropping malformed message")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
