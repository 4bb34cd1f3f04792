package cache

import (
	"sync"
)

// Invalidator drops cached state for a topic
type Invalidator interface {
	Invalidate(topic string) int
}

// AnyTopic subscribes to every invalidation
const AnyTopic = "*"

type subscription struct {
	topic string
	fn    func(topic string)
}

// notifier dispatches invalidation notices to subscribers
type notifier struct {
	subMu sync.Mutex
	subs  map[uint64]subscription
	next  uint64
}

// Subscribe registers fn for invalidations of topic, or of every topic with AnyTopic.
// The returned function removes the subscription.
func (n *notifier) Subscribe(topic string, fn func(topic string)) (unsubscribe func()) {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subs == nil {
		n.subs = make(map[uint64]subscription)
	}
	id := n.next
	n.next++
	n.subs[id] = subscription{topic: topic, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			n.subMu.Lock()
			defer n.subMu.Unlock()
			delete(n.subs, id)
		})
	}
}

func (n *notifier) notify(topic string) {
	n.subMu.Lock()
	var fns []func(string)
	for _, sub := range n.subs {
		if sub.topic == topic || sub.topic == AnyTopic {
			fns = append(fns, sub.fn)
		}
	}
	n.subMu.Unlock()

	for _, fn := range fns {
		fn(topic)
	}
}

// Bus fans invalidations out to every attached store
type Bus struct {
	mu      sync.RWMutex
	targets []Invalidator
	notifier
}

func NewBus(targets ...Invalidator) *Bus {
	return &Bus{targets: targets}
}

// Attach adds a store to the bus
func (b *Bus) Attach(target Invalidator) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.targets = append(b.targets, target)
}

// Invalidate drops the topics from every attached store, then notifies bus subscribers
func (b *Bus) Invalidate(topics ...string) {
	b.mu.RLock()
	targets := append([]Invalidator(nil), b.targets...)
	b.mu.RUnlock()

	for _, topic := range topics {
		for _, target := range targets {
			target.Invalidate(topic)
		}
		b.notify(topic)
	}
}
