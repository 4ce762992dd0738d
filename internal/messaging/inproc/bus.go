package inproc

import (
	"context"
	"errors"
	"sort"
	"sync"

	"control_room/internal/domain"
)

var (
	ErrStreamClosed        = errors.New("event stream is closed")
	ErrSubscriberNotFound  = errors.New("subscriber is not registered on stream")
	ErrSubscriberQueueFull = errors.New("subscriber queue is full")
)

type subscriber struct {
	ch   chan domain.Event
	gone chan struct{}
}

// Stream fans engine events out to named subscribers. Publish blocks until
// every current subscriber has accepted the event, so delivery order per
// subscriber is publish order and nothing is dropped silently.
type Stream struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	buffer int
	closed bool
}

func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{
		subs:   make(map[string]*subscriber),
		buffer: buffer,
	}
}

// Subscribe registers name and returns its event channel plus a function that
// unsubscribes it. Subscribing an existing name returns the same channel.
func (s *Stream) Subscribe(name string) (<-chan domain.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[name]; ok {
		return sub.ch, func() { s.Unsubscribe(name) }
	}
	sub := &subscriber{
		ch:   make(chan domain.Event, s.buffer),
		gone: make(chan struct{}),
	}
	if s.closed {
		close(sub.ch)
		close(sub.gone)
		return sub.ch, func() {}
	}
	s.subs[name] = sub
	return sub.ch, func() { s.Unsubscribe(name) }
}

// Unsubscribe removes name. The subscriber channel is left open so a
// publisher blocked on it is released through the gone channel instead.
func (s *Stream) Unsubscribe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[name]
	if !ok {
		return
	}
	delete(s.subs, name)
	close(sub.gone)
}

func (s *Stream) Subscribers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.subs))
	for name := range s.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Stream) Publish(ctx context.Context, ev domain.Event) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStreamClosed
	}
	targets := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.gone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// PublishTo delivers ev to one subscriber only, failing fast when its queue
// is full.
func (s *Stream) PublishTo(name string, ev domain.Event) error {
	s.mu.RLock()
	sub, ok := s.subs[name]
	s.mu.RUnlock()
	if !ok {
		return ErrSubscriberNotFound
	}
	select {
	case sub.ch <- ev:
		return nil
	case <-sub.gone:
		return ErrSubscriberNotFound
	default:
		return ErrSubscriberQueueFull
	}
}

// Close removes every subscriber and fails later publishes. Subscriber
// channels stay open; a publisher may still hold a reference to them.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for name, sub := range s.subs {
		delete(s.subs, name)
		close(sub.gone)
	}
}
