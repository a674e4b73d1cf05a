package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/linchenxuan/netclient/log"
)

// Publisher delivers events to subscribers synchronously, in registration
// order, on the publishing goroutine.
type Publisher struct {
	lock   sync.RWMutex
	topics map[string]*Topic
}

func NewPublisher() *Publisher {
	return &Publisher{topics: make(map[string]*Topic)}
}

// NewTopic must create a topic before you can initiate a subscription.
func (p *Publisher) NewTopic(topicName string, timeout time.Duration) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if _, ok := p.topics[topicName]; ok {
		return fmt.Errorf("topic %s already create", topicName)
	}
	p.topics[topicName] = &Topic{
		timeout:     timeout,
		subscribers: []Subscriber{},
	}
	return nil
}

// EnsureTopics creates every missing topic in names.
func (p *Publisher) EnsureTopics(timeout time.Duration, names ...string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, name := range names {
		if _, ok := p.topics[name]; !ok {
			p.topics[name] = &Topic{timeout: timeout, subscribers: []Subscriber{}}
		}
	}
}

// RegisterSubscriber appends fn to the topic's subscriber list.
func (p *Publisher) RegisterSubscriber(topicName string, fn Subscriber) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	topic, ok := p.topics[topicName]
	if !ok {
		return fmt.Errorf("topic %s not create", topicName)
	}

	topic.subscribers = append(topic.subscribers, fn)
	log.Debug().Str("topic", topicName).Int("num", len(topic.subscribers)).Msg("add subscriber")
	return nil
}

// Publish calls every subscriber of topicName with payload before returning.
// Subscribers may publish or subscribe themselves; the list is snapshotted
// before delivery.
func (p *Publisher) Publish(topicName string, payload any) error {
	p.lock.RLock()
	topic, ok := p.topics[topicName]
	var subs []Subscriber
	var timeout time.Duration
	if ok {
		subs = append(subs, topic.subscribers...)
		timeout = topic.timeout
	}
	p.lock.RUnlock()

	if !ok {
		return fmt.Errorf("topic:%s not create", topicName)
	}

	for i, sub := range subs {
		start := time.Now()
		sub(payload)
		if cost := time.Since(start); timeout > 0 && cost > timeout {
			log.Warn().Str("topic", topicName).Int("subscriber", i).Dur("cost", cost).Msg("slow event subscriber")
		}
	}
	return nil
}
