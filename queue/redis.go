package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldID      = "id"
	fieldBody    = "body"
	fieldExpires = "expires"
)

// Redis is a Transport over Redis Streams. Each topic is a stream; every
// process role reads through its own consumer group, so two roles (e.g. the
// agent and the monitor) each see every result.
type Redis struct {
	client   *redis.Client
	group    string
	consumer string
	lock     time.Duration

	mu     sync.Mutex
	groups map[string]struct{}
}

func OpenRedis(ctx context.Context, cfg RedisConfig, lock time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("queue: connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg, lock), nil
}

func NewRedis(client *redis.Client, cfg RedisConfig, lock time.Duration) *Redis {
	group := cfg.Group
	if group == "" {
		group = "chunk-relay"
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = group + "-1"
	}
	return &Redis{
		client:   client,
		group:    group,
		consumer: consumer,
		lock:     lock,
		groups:   make(map[string]struct{}),
	}
}

// Client exposes the underlying connection for health checks.
func (r *Redis) Client() *redis.Client { return r.client }

func dedupKey(topic, messageID string) string {
	return "chunk-relay:dedup:" + topic + ":" + messageID
}

func (r *Redis) Send(ctx context.Context, topic, messageID string, body []byte, ttl time.Duration) error {
	now := time.Now()
	deduped := messageID != "" && ttl > 0
	if deduped {
		fresh, err := r.client.SetNX(ctx, dedupKey(topic, messageID), 1, ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup %s: %w", messageID, err)
		}
		if !fresh {
			return nil
		}
	}

	values := map[string]interface{}{
		fieldID:   messageID,
		fieldBody: body,
	}
	args := &redis.XAddArgs{Stream: topic, Values: values}
	if ttl > 0 {
		values[fieldExpires] = now.Add(ttl).UnixMilli()
		// entries older than one TTL can never be delivered, trim them
		args.MinID = strconv.FormatInt(now.Add(-ttl).UnixMilli(), 10)
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		if deduped {
			_ = r.client.Del(ctx, dedupKey(topic, messageID)).Err()
		}
		return fmt.Errorf("queue: xadd %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) ensureGroup(ctx context.Context, topic string) error {
	r.mu.Lock()
	_, ok := r.groups[topic]
	r.mu.Unlock()
	if ok {
		return nil
	}
	err := r.client.XGroupCreateMkStream(ctx, topic, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: create group %s on %s: %w", r.group, topic, err)
	}
	r.mu.Lock()
	r.groups[topic] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *Redis) Receive(ctx context.Context, topic string, wait time.Duration) (*Message, error) {
	if err := r.ensureGroup(ctx, topic); err != nil {
		return nil, err
	}

	// entries delivered to any consumer of the group and left unacknowledged
	// past the lock duration are taken over first
	claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  r.lock,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue: xautoclaim %s: %w", topic, err)
	}
	if len(claimed) > 0 {
		return r.deliver(ctx, topic, claimed[0], true)
	}

	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{topic, ">"},
		Count:    1,
		Block:    wait,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: xreadgroup %s: %w", topic, err)
	}
	for _, s := range streams {
		for _, m := range s.Messages {
			return r.deliver(ctx, topic, m, false)
		}
	}
	return nil, nil
}

// deliver converts a stream entry. Expired entries are acknowledged and
// reported as an empty poll.
func (r *Redis) deliver(ctx context.Context, topic string, m redis.XMessage, redelivered bool) (*Message, error) {
	msg := &Message{
		Topic:       topic,
		ID:          valueString(m.Values[fieldID]),
		Body:        []byte(valueString(m.Values[fieldBody])),
		Redelivered: redelivered,
		handle:      m.ID,
	}
	if raw := valueString(m.Values[fieldExpires]); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && time.Now().UnixMilli() > ms {
			if err := r.Ack(ctx, msg); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}
	return msg, nil
}

func (r *Redis) Ack(ctx context.Context, msg *Message) error {
	if err := r.client.XAck(ctx, msg.Topic, r.group, msg.handle).Err(); err != nil {
		return fmt.Errorf("queue: xack %s %s: %w", msg.Topic, msg.handle, err)
	}
	return nil
}

// DropGroup removes this transport's consumer group from topic. Short-lived
// readers such as the monitor call it on exit.
func (r *Redis) DropGroup(ctx context.Context, topic string) error {
	if err := r.client.XGroupDestroy(ctx, topic, r.group).Err(); err != nil {
		return fmt.Errorf("queue: destroy group %s on %s: %w", r.group, topic, err)
	}
	r.mu.Lock()
	delete(r.groups, topic)
	r.mu.Unlock()
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }

func valueString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
