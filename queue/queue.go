// Package queue holds the message transports chunk and result records travel on.
// Delivery is at-least-once: anything received but not acknowledged within the
// lock duration is delivered again.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	TopicChunks  = "document-chunks"
	TopicResults = "processing-results"

	DefaultMessageTTL   = 24 * time.Hour
	DefaultLockDuration = 60 * time.Second
)

var ErrClosed = errors.New("queue: transport closed")

// Message is one received delivery. handle identifies the delivery for Ack.
type Message struct {
	Topic       string
	ID          string
	Body        []byte
	Redelivered bool

	handle string
}

type Transport interface {
	// Send publishes body under messageID. Transports that can suppress
	// duplicates do so by messageID for the lifetime of the message.
	Send(ctx context.Context, topic, messageID string, body []byte, ttl time.Duration) error
	// Receive waits up to wait for one message. A nil message with a nil
	// error means the wait elapsed.
	Receive(ctx context.Context, topic string, wait time.Duration) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	Close() error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Group    string
	Consumer string
}

type SQSConfig struct {
	Region    string
	Endpoint  string
	QueueURLs map[string]string
}

type Config struct {
	Kind         string
	MessageTTL   time.Duration
	LockDuration time.Duration
	Redis        RedisConfig
	SQS          SQSConfig
}

// Open builds the transport named by cfg.Kind and checks it is reachable.
func Open(ctx context.Context, cfg Config) (Transport, error) {
	lock := cfg.LockDuration
	if lock <= 0 {
		lock = DefaultLockDuration
	}
	switch cfg.Kind {
	case "redis", "":
		return OpenRedis(ctx, cfg.Redis, lock)
	case "sqs":
		return OpenSQS(ctx, cfg.SQS, lock)
	case "memory":
		return NewMemory(lock), nil
	default:
		return nil, fmt.Errorf("queue: unknown transport kind %q", cfg.Kind)
	}
}
