package state

import (
	"github.com/quarteridge/galleryd/internal/domain"
)

// ProgressUpdate is the payload delivered on every applied progress
// mutation.
type ProgressUpdate struct {
	Index           int
	SourceURL       string
	Title           string
	Current         int
	Total           int
	RelativeCurrent int
	RelativeTotal   int
	Status          domain.Status
}

// StatusChange is delivered when a session's status actually moves.
// Idempotent status sets produce no StatusChange.
type StatusChange struct {
	Index     int
	SourceURL string
	Old       domain.Status
	New       domain.Status
}

// Observer is the fixed, compile-time-checked subscriber surface.
// Callbacks run on the store's consumer goroutine and must not block.
type Observer interface {
	OnProgressUpdated(index int, data ProgressUpdate)
	OnStatusChanged(data StatusChange)
}

// notification is a queued callback, built while the state lock is
// held and dispatched after it is released.
type notification struct {
	progress *ProgressUpdate
	status   *StatusChange
}

func progressNote(p ProgressUpdate) notification { return notification{progress: &p} }
func statusNote(c StatusChange) notification     { return notification{status: &c} }

// dispatch fans a notification out to a snapshot of the subscriber
// list. Each callback runs inside its own failure boundary: a panicking
// observer is logged and skipped, never allowed to stop delivery to the
// rest or kill the consumer.
func (s *Store) dispatch(notes []notification) {
	if len(notes) == 0 {
		return
	}

	s.obsMu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()

	for _, note := range notes {
		for _, obs := range observers {
			s.notifyOne(obs, note)
		}
	}
}

func (s *Store) notifyOne(obs Observer, note notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer callback panicked: %v", r)
		}
	}()

	switch {
	case note.progress != nil:
		obs.OnProgressUpdated(note.progress.Index, *note.progress)
	case note.status != nil:
		obs.OnStatusChanged(*note.status)
	}
}

// AttachObserver subscribes obs to every applied mutation. Attaching an
// already-registered observer is a no-op.
func (s *Store) AttachObserver(obs Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, existing := range s.observers {
		if existing == obs {
			return
		}
	}
	s.observers = append(s.observers, obs)
}

// DetachObserver removes obs from the subscriber list.
func (s *Store) DetachObserver(obs Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for i, existing := range s.observers {
		if existing == obs {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}
