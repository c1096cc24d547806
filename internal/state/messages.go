package state

import (
	"time"

	"github.com/quarteridge/galleryd/internal/domain"
)

// Message is the only unit of mutation the store accepts. The set of
// implementations below is closed; the consumer switches over it
// exhaustively and logs anything it does not recognize.
type Message interface {
	isMessage()
}

// envelope stamps a message with its arrival time so time-sensitive
// mutations (pause, resume) are applied against the moment they were
// requested, not the moment the consumer got around to them.
type envelope struct {
	msg Message
	at  time.Time
}

// EnsureSession creates the session for an index on first reference.
// Posting it twice for the same index is a no-op.
type EnsureSession struct {
	Index     int
	SourceURL string
}

// UpdateProgress sets absolute progress and recomputes the windowed
// counters. Total <= 0 keeps the known total.
type UpdateProgress struct {
	Index   int
	Current int
	Total   int
}

// SetTitle updates the session title once metadata resolution names it.
type SetTitle struct {
	Index int
	Title string
}

// SetStatus requests a validated status transition for one session.
type SetStatus struct {
	Index  int
	Status domain.Status
}

// MarkError moves one session to Error and records the failure
// message reported by the worker.
type MarkError struct {
	Index   int
	Message string
}

// SetWindow applies a download window to one session.
type SetWindow struct {
	Index  int
	Window domain.Window
}

// ClearWindow removes a session's download window.
type ClearWindow struct {
	Index int
}

// SetDestination records where the item's files land.
type SetDestination struct {
	Index int
	Path  string
}

// SetIncomplete flags an item whose folder is missing pages.
type SetIncomplete struct {
	Index      int
	Incomplete bool
}

// SetRunning toggles the run flag and recomputes the aggregate app
// state.
type SetRunning struct {
	Running bool
}

// SetPaused pauses or resumes the whole active set, with aggregate
// paused-time accounting applied on resume.
type SetPaused struct {
	Paused bool
}

// SetCurrentIndex records which list item the run is working on.
type SetCurrentIndex struct {
	Index int
}

// SetTotalURLs records the size of the current run's list.
type SetTotalURLs struct {
	Total int
}

// SetRunProgress records aggregate current/total progress for the run.
type SetRunProgress struct {
	Current int
	Total   int
}

// RemoveSession destroys one session.
type RemoveSession struct {
	Index int
}

// ResetAll destroys every session and clears aggregate accounting.
type ResetAll struct{}

// ImportSnapshot replaces the registry contents with a previously
// exported snapshot.
type ImportSnapshot struct {
	Snapshot Snapshot
}

func (EnsureSession) isMessage()   {}
func (UpdateProgress) isMessage()  {}
func (SetTitle) isMessage()        {}
func (SetStatus) isMessage()       {}
func (MarkError) isMessage()       {}
func (SetWindow) isMessage()       {}
func (ClearWindow) isMessage()     {}
func (SetDestination) isMessage()  {}
func (SetIncomplete) isMessage()   {}
func (SetRunning) isMessage()      {}
func (SetPaused) isMessage()       {}
func (SetCurrentIndex) isMessage() {}
func (SetTotalURLs) isMessage()    {}
func (SetRunProgress) isMessage()  {}
func (RemoveSession) isMessage()   {}
func (ResetAll) isMessage()        {}
func (ImportSnapshot) isMessage()  {}
