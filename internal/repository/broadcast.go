package repository

import (
	"context"
	"sync"
)

// broadcaster fans values out to subscribers. Each subscriber owns an
// unbounded queue so a slow reader never loses or blocks deliveries.
type broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	done   chan struct{}
	closed bool
}

type subscriber[T any] struct {
	mu     sync.Mutex
	queue  []T
	signal chan struct{}
	out    chan T
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[*subscriber[T]]struct{}), done: make(chan struct{})}
}

// subscribe registers a subscriber before returning, so every publish that
// happens after the call is delivered.
func (b *broadcaster[T]) subscribe(ctx context.Context) (<-chan T, error) {
	s := &subscriber[T]{signal: make(chan struct{}, 1), out: make(chan T)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrStoreClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go b.pump(ctx, s)
	return s.out, nil
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.mu.Lock()
		s.queue = append(s.queue, v)
		s.mu.Unlock()
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

func (b *broadcaster[T]) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

func (b *broadcaster[T]) pump(ctx context.Context, s *subscriber[T]) {
	defer func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.out)
	}()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-s.signal:
				continue
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}
