package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/lix/internal/commit"
)

// StateCommitEvent is delivered after every successful commit.
type StateCommitEvent = commit.Event

// ErrSubscriptionClosed is returned by Subscription.Next once the
// subscription is closed and drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

// hooks fans state_commit events out to listeners and subscriptions.
// Events are emitted after the commit lock is released, so a listener may
// write to the lix itself.
type hooks struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(StateCommitEvent)
	subs      map[*Subscription]struct{}
}

func (h *hooks) emit(ev StateCommitEvent) {
	h.mu.Lock()
	fns := make([]func(StateCommitEvent), 0, len(h.listeners))
	// Registration order.
	for i := 0; i < h.next; i++ {
		if fn, ok := h.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	for s := range h.subs {
		s.queue.Enqueue(ev)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// OnStateCommit registers fn to run after every successful commit, on the
// goroutine that committed. The returned function unregisters it.
func (e *Engine) OnStateCommit(fn func(StateCommitEvent)) (unsubscribe func()) {
	h := &e.hooks
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = map[int]func(StateCommitEvent){}
	}
	id := h.next
	h.next++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// Subscription queues state_commit events for a consumer that reads them
// at its own pace.
type Subscription struct {
	hooks *hooks
	queue *eventQueue
}

// Subscribe returns a subscription receiving every event committed after
// the call. Close it when done.
func (e *Engine) Subscribe() *Subscription {
	s := &Subscription{hooks: &e.hooks, queue: newEventQueue()}
	e.hooks.mu.Lock()
	defer e.hooks.mu.Unlock()
	if e.hooks.subs == nil {
		e.hooks.subs = map[*Subscription]struct{}{}
	}
	e.hooks.subs[s] = struct{}{}
	return s
}

// Next blocks until an event is available, the subscription is closed and
// drained, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (StateCommitEvent, error) {
	for {
		if ev, ok := s.queue.TryDequeue(); ok {
			return ev, nil
		}
		if s.queue.Closed() {
			return StateCommitEvent{}, ErrSubscriptionClosed
		}
		select {
		case <-ctx.Done():
			return StateCommitEvent{}, ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Close stops delivery. Events already queued can still be read.
func (s *Subscription) Close() {
	s.hooks.mu.Lock()
	delete(s.hooks.subs, s)
	s.hooks.mu.Unlock()
	s.queue.Close()
}
