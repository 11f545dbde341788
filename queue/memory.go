package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	seq         uint64
	id          string
	body        []byte
	expires     time.Time
	lockedUntil time.Time
	deliveries  int
}

// Memory is an in-process Transport with the same delivery contract as the
// networked ones: dedup by message id, TTL expiry, lock-duration redelivery.
type Memory struct {
	mu     sync.Mutex
	lock   time.Duration
	seq    uint64
	topics map[string][]*memEntry
	seen   map[string]time.Time
	signal chan struct{}
	closed bool
}

func NewMemory(lock time.Duration) *Memory {
	if lock <= 0 {
		lock = DefaultLockDuration
	}
	return &Memory{
		lock:   lock,
		topics: make(map[string][]*memEntry),
		seen:   make(map[string]time.Time),
		signal: make(chan struct{}),
	}
}

func (m *Memory) Send(ctx context.Context, topic, messageID string, body []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if messageID != "" {
		key := topic + "\x00" + messageID
		if exp, ok := m.seen[key]; ok && now.Before(exp) {
			return nil
		}
		if ttl > 0 {
			m.seen[key] = now.Add(ttl)
		}
	}
	m.seq++
	e := &memEntry{seq: m.seq, id: messageID, body: append([]byte(nil), body...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.topics[topic] = append(m.topics[topic], e)
	close(m.signal)
	m.signal = make(chan struct{})
	return nil
}

func (m *Memory) Receive(ctx context.Context, topic string, wait time.Duration) (*Message, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		msg, retryIn := m.take(topic, time.Now())
		signal := m.signal
		m.mu.Unlock()
		if msg != nil {
			return msg, nil
		}

		var retry <-chan time.Time
		var retryTimer *time.Timer
		if retryIn > 0 {
			retryTimer = time.NewTimer(retryIn)
			retry = retryTimer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(retryTimer)
			return nil, ctx.Err()
		case <-deadline.C:
			stopTimer(retryTimer)
			return nil, nil
		case <-signal:
		case <-retry:
		}
		stopTimer(retryTimer)
	}
}

// take locks the first deliverable entry. When none is ready it reports how
// long until the earliest lock expires, or zero if nothing is locked.
func (m *Memory) take(topic string, now time.Time) (*Message, time.Duration) {
	entries := m.topics[topic]
	live := entries[:0]
	for _, e := range entries {
		if e.expires.IsZero() || now.Before(e.expires) {
			live = append(live, e)
		}
	}
	m.topics[topic] = live

	var retryIn time.Duration
	for _, e := range live {
		if now.Before(e.lockedUntil) {
			if d := e.lockedUntil.Sub(now); retryIn == 0 || d < retryIn {
				retryIn = d
			}
			continue
		}
		e.lockedUntil = now.Add(m.lock)
		e.deliveries++
		return &Message{
			Topic:       topic,
			ID:          e.id,
			Body:        append([]byte(nil), e.body...),
			Redelivered: e.deliveries > 1,
			handle:      strconv.FormatUint(e.seq, 10),
		}, 0
	}
	return nil, retryIn
}

func (m *Memory) Ack(ctx context.Context, msg *Message) error {
	seq, err := strconv.ParseUint(msg.handle, 10, 64)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.topics[msg.Topic]
	for i, e := range entries {
		if e.seq == seq {
			m.topics[msg.Topic] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Pending counts messages on topic that are neither acknowledged nor expired.
func (m *Memory) Pending(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	n := 0
	for _, e := range m.topics[topic] {
		if e.expires.IsZero() || now.Before(e.expires) {
			n++
		}
	}
	return n
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.signal)
	}
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
