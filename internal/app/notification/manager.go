// Package notification composes monitor events into messages and fans them
// out to sinks.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Sink delivers messages somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// subscription represents a registered sink.
type subscription struct {
	id   string
	sink Sink
}

// Manager manages sinks and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	timeout       time.Duration
}

// NewManager creates a manager. Each sink gets timeout per message.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		timeout:       timeout,
	}
}

// Subscribe adds a sink and returns the subscription ID.
func (m *Manager) Subscribe(sink Sink) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:   id,
		sink: sink,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends msg to all sinks in parallel, each bounded by the
// manager timeout. Failures are logged.
func (m *Manager) Broadcast(ctx context.Context, msg Message) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	msg.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
			defer cancel()

			if err := s.sink.Send(sendCtx, msg); err != nil {
				zlog.Warn().Msgf("notification: %s failed to send %q: %v", s.sink.Name(), msg.Subject, err)
			}
		}(sub)
	}
	wg.Wait()
}

// SubscriberCount returns the number of sinks.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all sinks.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
