package fanout

import (
	"context"
	"log"
	"sync"

	"backchannel/pkg/interfaces"
	"backchannel/pkg/types"
)

// subscriptionBuffer must absorb the events that arrive while a newly
// connected client is still replaying history.
const subscriptionBuffer = 64

// Memory is an in-process fan-out broker: every event published to a
// group is delivered to each live subscription of that group. It backs
// single-process deployments and tests; cross-process deployments use
// the Redis broker with identical semantics.
type Memory struct {
	mu     sync.RWMutex
	groups map[string]map[*memorySubscription]struct{}
}

// NewMemory creates an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{groups: make(map[string]map[*memorySubscription]struct{})}
}

// Publish delivers the event to every current subscriber of the group.
// Delivery is non-blocking: a subscriber that has stopped draining its
// channel loses the event rather than stalling the publisher.
func (m *Memory) Publish(_ context.Context, group string, event types.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.groups[group] {
		select {
		case sub.events <- event:
		default:
			log.Printf("Dropping event for slow subscriber: group=%s", group)
		}
	}
	return nil
}

// Subscribe attaches a new subscription to the group.
func (m *Memory) Subscribe(_ context.Context, group string) (interfaces.Subscription, error) {
	sub := &memorySubscription{
		broker: m,
		group:  group,
		events: make(chan types.Event, subscriptionBuffer),
	}

	m.mu.Lock()
	if m.groups[group] == nil {
		m.groups[group] = make(map[*memorySubscription]struct{})
	}
	m.groups[group][sub] = struct{}{}
	m.mu.Unlock()

	return sub, nil
}

type memorySubscription struct {
	broker    *Memory
	group     string
	events    chan types.Event
	closeOnce sync.Once
}

func (s *memorySubscription) Events() <-chan types.Event {
	return s.events
}

// Close detaches from the group and closes the event channel. Safe to
// call more than once.
func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.mu.Lock()
		if subs, exists := s.broker.groups[s.group]; exists {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.broker.groups, s.group)
			}
		}
		s.broker.mu.Unlock()
		close(s.events)
	})
	return nil
}
