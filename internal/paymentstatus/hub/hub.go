// Package hub fans transaction status updates out to in-process subscribers.
// One write (the provider callback) reaches zero or more readers; readers
// fetch current state on subscribe and then listen for deltas, and a slow
// reader never blocks the publisher.
package hub

import (
	"errors"
	"strings"
	"sync"

	"github.com/nyumbanilabs/nyumbani/internal/paymentstatus/domain"
)

const DefaultSubscriberBuffer = 16

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	last   *domain.Update
	subs   map[uint64]chan domain.Update
	nextID uint64
}

type Subscription struct {
	hub  *Hub
	key  string
	id   uint64
	ch   chan domain.Update
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish fans the update out under every key. Consecutive identical states
// on a key are dropped.
func (h *Hub) Publish(keys []string, update domain.Update) {
	if h == nil {
		return
	}
	for _, key := range keys {
		h.publishOne(key, update)
	}
}

func (h *Hub) publishOne(key string, update domain.Update) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	if stream.last != nil && stream.last.Same(update) {
		stream.mu.Unlock()
		return
	}
	stream.last = &update
	subs := make([]chan domain.Update, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// Subscribe returns the last published state for the key, if any, plus a
// delta channel. Close the subscription to release it.
func (h *Hub) Subscribe(key string) (*Subscription, *domain.Update, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil, errors.New("invalid_subscription_key")
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	id := stream.nextID
	stream.nextID++
	ch := make(chan domain.Update, h.subscriberBuffer)
	stream.subs[id] = ch
	var snapshot *domain.Update
	if stream.last != nil {
		copied := *stream.last
		snapshot = &copied
	}
	stream.mu.Unlock()

	return &Subscription{hub: h, key: key, id: id, ch: ch}, snapshot, nil
}

func (h *Hub) ensureStream(key string) *stream {
	h.mu.RLock()
	current := h.streams[key]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[key]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan domain.Update)}
		h.streams[key] = current
	}
	return current
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[key]
	if current == stream {
		stream.mu.Lock()
		if len(stream.subs) == 0 {
			delete(h.streams, key)
		}
		stream.mu.Unlock()
	}
	h.mu.Unlock()
}

func (s *Subscription) Updates() <-chan domain.Update {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.key, s.id)
	})
}
