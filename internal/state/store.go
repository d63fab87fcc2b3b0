// Package state holds the console's single source of truth and fans out
// every change to registered observers.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer receives a private copy of the state after every change.
type Observer func(Snapshot)

type registration struct {
	fn Observer
}

// Store owns the Snapshot. Set is the only way to change it. Readers get
// deep copies.
//
// Notifications for one Set are delivered to every observer, in
// registration order, before those of the next Set start. A Set issued
// while a dispatch is in flight (from an observer or another goroutine) is
// queued and delivered by the dispatching goroutine. A panicking observer
// aborts the current round but leaves the store usable.
type Store struct {
	mu          sync.Mutex
	state       Snapshot
	order       []string
	observers   map[string]*registration
	pending     []Snapshot
	dispatching bool
}

// New returns a Store holding initial.
func New(initial Snapshot) *Store {
	return &Store{
		state:     initial.Clone(),
		observers: make(map[string]*registration),
	}
}

// Get returns a deep copy of the current state.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Set merges p into the state and notifies observers.
func (s *Store) Set(p Patch) {
	s.update(p.applyTo)
}

// PushActivity prepends an activity entry, keeping the newest MaxActivity.
func (s *Store) PushActivity(message string, tone Tone, now time.Time) {
	entry := Activity{
		ID:        uuid.New().String(),
		Message:   message,
		Timestamp: now,
		Tone:      tone,
	}
	s.update(func(st *Snapshot) {
		st.Activity = capActivity(append([]Activity{entry}, st.Activity...))
	})
}

func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.state)
	s.pending = append(s.pending, s.state.Clone())
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	s.mu.Unlock()

	s.dispatch()
}

// dispatch drains pending until it is empty. If an observer panics, the
// undelivered snapshots are dropped and the store accepts new dispatches.
func (s *Store) dispatch() {
	drained := false
	defer func() {
		if drained {
			return
		}
		s.mu.Lock()
		s.dispatching = false
		s.pending = nil
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			drained = true
			return
		}
		snap := s.pending[0]
		s.pending = s.pending[1:]
		fns := s.observerFuncsLocked()
		s.mu.Unlock()

		for _, fn := range fns {
			fn(snap.Clone())
		}
	}
}

func (s *Store) observerFuncsLocked() []Observer {
	fns := make([]Observer, 0, len(s.order))
	for _, key := range s.order {
		fns = append(fns, s.observers[key].fn)
	}
	return fns
}

// Subscribe registers fn under key and calls it at once with the current
// state. Registering an existing key replaces its observer in place. The
// returned func removes the registration; it is a no-op once the key has
// been replaced or removed.
func (s *Store) Subscribe(key string, fn Observer) (unsubscribe func()) {
	reg := &registration{fn: fn}

	s.mu.Lock()
	if _, ok := s.observers[key]; !ok {
		s.order = append(s.order, key)
	}
	s.observers[key] = reg
	snap := s.state.Clone()
	s.mu.Unlock()

	fn(snap)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.observers[key] != reg {
			return
		}
		delete(s.observers, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}
