package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sigweihq/ebookpay/pkg/constants"
	"golang.org/x/sync/singleflight"
)

// Loader produces a fresh value for a cache key
type Loader[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value   V
	topics  []string
	expires time.Time
}

// Store is a read-through cache of on-chain values keyed by string. Entries are
// tagged with topics; invalidating a topic drops every entry tagged with it.
// Entries also expire after the refresh interval so that changes made outside
// this process are picked up.
type Store[V any] struct {
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
	byTopic map[string]map[string]struct{}
	epoch   uint64

	group singleflight.Group
	notifier
}

// NewStore creates a store; a non-positive ttl uses constants.CacheRefreshInterval
func NewStore[V any](ttl time.Duration) *Store[V] {
	if ttl <= 0 {
		ttl = constants.CacheRefreshInterval
	}
	return &Store[V]{
		ttl:         ttl,
		loadTimeout: constants.SharedLoadTimeout,
		now:         time.Now,
		entries:     make(map[string]entry[V]),
		byTopic:     make(map[string]map[string]struct{}),
	}
}

// Get returns the cached value for key or loads it. Concurrent misses for the
// same key share one load. The load keeps ctx values but not its cancellation,
// so a caller that gives up returns ctx.Err() without failing the others.
// A load that overlaps an invalidation is returned to its callers but not cached.
func (s *Store[V]) Get(ctx context.Context, key string, topics []string, load Loader[V]) (V, error) {
	if v, ok := s.Peek(key); ok {
		return v, nil
	}

	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	ch := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.epoch == epoch {
			s.setLocked(key, topics, v)
		}
		s.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(V)
		if !ok {
			return zero, fmt.Errorf("cache: unexpected value type %T for %s", res.Val, key)
		}
		return v, nil
	}
}

// Peek returns an unexpired value without loading
func (s *Store[V]) Peek(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores an observed value, replacing any cached one
func (s *Store[V]) Set(key string, topics []string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(key, topics, value)
}

func (s *Store[V]) setLocked(key string, topics []string, value V) {
	s.removeLocked(key)
	s.entries[key] = entry[V]{
		value:   value,
		topics:  append([]string(nil), topics...),
		expires: s.now().Add(s.ttl),
	}
	for _, topic := range topics {
		keys, ok := s.byTopic[topic]
		if !ok {
			keys = make(map[string]struct{})
			s.byTopic[topic] = keys
		}
		keys[key] = struct{}{}
	}
}

func (s *Store[V]) removeLocked(key string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	for _, topic := range e.topics {
		if keys, ok := s.byTopic[topic]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(s.byTopic, topic)
			}
		}
	}
}

// Invalidate drops every entry tagged with topic and notifies subscribers.
// It returns the number of entries dropped.
func (s *Store[V]) Invalidate(topic string) int {
	s.mu.Lock()
	s.epoch++
	keys := s.byTopic[topic]
	dropped := 0
	for key := range keys {
		s.removeLocked(key)
		s.group.Forget(key)
		dropped++
	}
	s.mu.Unlock()

	s.notify(topic)
	return dropped
}

// Clear drops all entries
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	for key := range s.entries {
		s.group.Forget(key)
	}
	s.entries = make(map[string]entry[V])
	s.byTopic = make(map[string]map[string]struct{})
}

// Len returns the number of stored entries, including expired ones
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
