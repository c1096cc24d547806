package state

import (
	"time"

	"github.com/quarteridge/galleryd/internal/domain"
)

// Fire-and-forget mutation wrappers. Each posts one message; the
// effect is visible through the getters once the consumer applies it.

func (s *Store) EnsureSession(index int, sourceURL string) {
	s.Post(EnsureSession{Index: index, SourceURL: sourceURL})
}

func (s *Store) UpdateProgress(index, current, total int) {
	s.Post(UpdateProgress{Index: index, Current: current, Total: total})
}

func (s *Store) SetTitle(index int, title string) {
	s.Post(SetTitle{Index: index, Title: title})
}

// SetURLStatus normalizes and requests a status change. A request equal
// to the currently stored status is dropped here, before it ever
// reaches the queue, so high-frequency updates cannot churn observers
// with duplicate notifications.
func (s *Store) SetURLStatus(index int, status domain.Status) {
	s.mu.RLock()
	current, ok := s.registry.Get(index)
	s.mu.RUnlock()
	if ok && current.Status == status {
		return
	}
	s.Post(SetStatus{Index: index, Status: status})
}

// MarkError records a failure with the message the worker observed,
// so the cause survives into snapshots and the API.
func (s *Store) MarkError(index int, msg string) {
	s.Post(MarkError{Index: index, Message: msg})
}

func (s *Store) SetWindow(index int, w domain.Window) {
	s.Post(SetWindow{Index: index, Window: w})
}

func (s *Store) ClearWindow(index int) {
	s.Post(ClearWindow{Index: index})
}

func (s *Store) SetDestination(index int, path string) {
	s.Post(SetDestination{Index: index, Path: path})
}

func (s *Store) SetIncomplete(index int, incomplete bool) {
	s.Post(SetIncomplete{Index: index, Incomplete: incomplete})
}

func (s *Store) SetRunning(running bool) {
	s.Post(SetRunning{Running: running})
}

func (s *Store) SetPaused(paused bool) {
	s.Post(SetPaused{Paused: paused})
}

func (s *Store) SetCurrentIndex(index int) {
	s.Post(SetCurrentIndex{Index: index})
}

func (s *Store) SetTotalURLs(total int) {
	s.Post(SetTotalURLs{Total: total})
}

func (s *Store) SetRunProgress(current, total int) {
	s.Post(SetRunProgress{Current: current, Total: total})
}

func (s *Store) RemoveSession(index int) {
	s.Post(RemoveSession{Index: index})
}

func (s *Store) ResetAll() {
	s.Post(ResetAll{})
}

func (s *Store) Import(snap Snapshot) {
	s.Post(ImportSnapshot{Snapshot: snap})
}

// Fast-path getters. Each takes a short read lock over the
// authoritative fields only; none of them waits for queued mutations
// to drain.

func (s *Store) AppState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appState
}

func (s *Store) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Store) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Store) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentIndex
}

func (s *Store) TotalURLs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalURLs
}

func (s *Store) RunProgress() (current, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCurrent, s.runTotal
}

func (s *Store) TotalPausedTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPaused
}

// URLStatus returns the stored status for an index, defaulting to
// Pending for unknown sessions.
func (s *Store) URLStatus(index int) domain.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.registry.Get(index)
	if !ok {
		return domain.StatusPending
	}
	return sess.Status
}

// Session returns a copy of one session.
func (s *Store) Session(index int) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Get(index)
}

// Sessions returns a snapshot copy of every session.
func (s *Store) Sessions() map[int]domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.All()
}

// CompletedCount counts sessions that reached a done outcome; skipped
// items count as done for run accounting.
func (s *Store) CompletedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.registry.All() {
		if sess.Status == domain.StatusCompleted || sess.Status == domain.StatusSkipped {
			n++
		}
	}
	return n
}

func (s *Store) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.registry.All() {
		if sess.Status == domain.StatusError {
			n++
		}
	}
	return n
}

// Export captures the registry and aggregate timestamp as a snapshot.
// The live pause-start timestamp is not part of the export.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := s.registry.All()
	for idx, sess := range sessions {
		sess.PauseStart = time.Time{}
		sessions[idx] = sess
	}
	return Snapshot{Sessions: sessions, Timestamp: time.Now()}
}
