package pubsub

import (
	"context"
	"sync"
)

// InMemory is the default PubSub: purely local fan-out via buffered
// channels, one per Subscription. It never bridges to any external broker,
// regardless of the remote flag passed to PublishLocally.
type InMemory struct {
	mu   sync.RWMutex
	subs map[Topic]map[*memSubscription]struct{}
}

// NewInMemory returns a ready-to-use InMemory PubSub.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[Topic]map[*memSubscription]struct{})}
}

type memSubscription struct {
	ps     *InMemory
	topic  Topic
	events chan []byte
	once   sync.Once
}

func (s *memSubscription) Events() <-chan []byte { return s.events }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.ps.mu.Lock()
		delete(s.ps.subs[s.topic], s)
		s.ps.mu.Unlock()
		close(s.events)
	})

	return nil
}

const defaultSubscriptionBuffer = 64

// Subscribe implements PubSub.
func (p *InMemory) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	sub := &memSubscription{
		ps:     p,
		topic:  topic,
		events: make(chan []byte, defaultSubscriptionBuffer),
	}

	p.mu.Lock()
	if p.subs[topic] == nil {
		p.subs[topic] = make(map[*memSubscription]struct{})
	}
	p.subs[topic][sub] = struct{}{}
	p.mu.Unlock()

	return sub, nil
}

// PublishLocally implements PubSub. Slow subscribers are dropped from
// delivery for this event rather than blocking the publisher; a
// subscriber's buffer filling up indicates it has fallen behind, not that
// the publish should stall.
func (p *InMemory) PublishLocally(_ context.Context, topic Topic,
	payload []byte, _ bool) error {

	p.mu.RLock()
	defer p.mu.RUnlock()

	for sub := range p.subs[topic] {
		select {
		case sub.events <- payload:
		default:
		}
	}

	return nil
}

var _ PubSub = (*InMemory)(nil)
