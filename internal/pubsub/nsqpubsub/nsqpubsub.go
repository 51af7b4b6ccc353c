// Package nsqpubsub is a pubsub.PubSub backed by NSQ, for deployments that
// need SystemTopic events to cross process/host boundaries rather than stay
// confined to a single node's in-memory fan-out.
package nsqpubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/nsqio/go-nsq"

	"github.com/coralsys/meshactor/internal/pubsub"
)

// Config points at the nsqd/nsqlookupd addresses used for publishing and
// consuming.
type Config struct {
	// NSQDAddr is the nsqd TCP address producers connect to.
	NSQDAddr string

	// NSQLookupdAddrs are the nsqlookupd HTTP addresses consumers use for
	// topic/channel discovery. If empty, ConnectToNSQD(NSQDAddr) is used
	// instead.
	NSQLookupdAddrs []string

	// Channel is the NSQ channel name this node's consumers subscribe
	// under. Every node should use a distinct channel so each receives
	// its own copy of every published event (NSQ fans a topic out once
	// per channel, not once per consumer).
	Channel string
}

// PubSub is a pubsub.PubSub backed by NSQ.
type PubSub struct {
	cfg      Config
	producer *nsq.Producer

	mu        sync.Mutex
	consumers map[pubsub.Topic]*nsq.Consumer
}

// New connects a producer to cfg.NSQDAddr. Consumers are created lazily,
// one per distinct topic subscribed to.
func New(cfg Config) (*PubSub, error) {
	producer, err := nsq.NewProducer(cfg.NSQDAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsqpubsub: producer connect failed: %w", err)
	}

	return &PubSub{
		cfg:       cfg,
		producer:  producer,
		consumers: make(map[pubsub.Topic]*nsq.Consumer),
	}, nil
}

type handlerFunc func(msg *nsq.Message) error

func (h handlerFunc) HandleMessage(msg *nsq.Message) error { return h(msg) }

type subscription struct {
	consumer *nsq.Consumer
	events   chan []byte
}

func (s *subscription) Events() <-chan []byte { return s.events }

func (s *subscription) Close() error {
	s.consumer.Stop()
	return nil
}

// Subscribe implements pubsub.PubSub by creating a dedicated NSQ consumer
// for topic under the configured channel.
func (p *PubSub) Subscribe(_ context.Context,
	topic pubsub.Topic) (pubsub.Subscription, error) {

	consumer, err := nsq.NewConsumer(string(topic), p.cfg.Channel, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsqpubsub: consumer create failed: %w", err)
	}

	events := make(chan []byte, 64)
	consumer.AddHandler(handlerFunc(func(msg *nsq.Message) error {
		body := make([]byte, len(msg.Body))
		copy(body, msg.Body)

		select {
		case events <- body:
		default:
		}

		return nil
	}))

	if len(p.cfg.NSQLookupdAddrs) > 0 {
		if err := consumer.ConnectToNSQLookupds(p.cfg.NSQLookupdAddrs); err != nil {
			return nil, fmt.Errorf(
				"nsqpubsub: lookupd connect failed: %w", err)
		}
	} else {
		if err := consumer.ConnectToNSQD(p.cfg.NSQDAddr); err != nil {
			return nil, fmt.Errorf("nsqpubsub: nsqd connect failed: %w", err)
		}
	}

	p.mu.Lock()
	p.consumers[topic] = consumer
	p.mu.Unlock()

	return &subscription{consumer: consumer, events: events}, nil
}

// PublishLocally implements pubsub.PubSub. Despite the name, every publish
// through this driver crosses the NSQ broker; there is no purely local
// fast path, so the remote flag is accepted but unused.
func (p *PubSub) PublishLocally(_ context.Context, topic pubsub.Topic,
	payload []byte, _ bool) error {

	return p.producer.Publish(string(topic), payload)
}

// Close stops the producer and every consumer created via Subscribe.
func (p *PubSub) Close() {
	p.producer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.consumers {
		c.Stop()
	}
}

var _ pubsub.PubSub = (*PubSub)(nil)
