package orchestrator

import (
	"context"
	"sync"
)

// broadcaster holds the latest snapshot and wakes watchers when it changes.
// Publishing never blocks: a watcher that falls behind simply reads the newest
// value next time it looks.
type broadcaster struct {
	mu      sync.Mutex
	state   State
	version uint64
	changed chan struct{}
	closed  bool
}

func newBroadcaster(initial State) *broadcaster {
	return &broadcaster{
		state:   initial,
		version: 1,
		changed: make(chan struct{}),
	}
}

// publish replaces the snapshot and closes the current notification channel.
func (b *broadcaster) publish(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.state = s
	b.version++
	close(b.changed)
	b.changed = make(chan struct{})
}

// close wakes every watcher one last time; later publishes are dropped.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.changed)
}

func (b *broadcaster) load() (State, uint64, <-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.version, b.changed, b.closed
}

// Subscription observes the latest state of one engine. It never queues:
// between two reads any number of intermediate snapshots may be skipped.
type Subscription struct {
	b *broadcaster

	mu     sync.Mutex
	seen   uint64
	closed bool
}

func newSubscription(b *broadcaster) *Subscription {
	_, v, _, _ := b.load()
	return &Subscription{b: b, seen: v - 1}
}

// Changed returns a channel that is closed when a snapshot newer than the
// last one returned by Latest or Next is available, or when the engine
// stops. Call it again after every wake-up.
func (s *Subscription) Changed() <-chan struct{} {
	_, v, ch, closed := s.b.load()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || closed || v != s.seen {
		return closedChan
	}
	return ch
}

// Stopped reports whether the engine has exited or the subscription was
// closed. Once true, Changed stays closed and Latest never changes again.
func (s *Subscription) Stopped() bool {
	_, _, _, closed := s.b.load()
	s.mu.Lock()
	defer s.mu.Unlock()
	return closed || s.closed
}

// Latest returns the newest snapshot and marks it as seen.
func (s *Subscription) Latest() State {
	st, v, _, _ := s.b.load()
	s.mu.Lock()
	s.seen = v
	s.mu.Unlock()
	return st.Clone()
}

// Next blocks until a snapshot the subscriber has not seen is available.
// A fresh subscription returns the current snapshot immediately.
func (s *Subscription) Next(ctx context.Context) (State, error) {
	for {
		st, v, ch, closed := s.b.load()
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return State{}, errEngineStopped
		}
		if v != s.seen {
			s.seen = v
			s.mu.Unlock()
			return st.Clone(), nil
		}
		s.mu.Unlock()
		if closed {
			return State{}, errEngineStopped
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return State{}, ctx.Err()
		}
	}
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
