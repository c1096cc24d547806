package scheduler

import "github.com/quarteridge/galleryd/internal/domain"

// QueueItem is one URL slot in a run, identified by its stable index.
type QueueItem struct {
	Index  int           `json:"index"`
	URL    string        `json:"url"`
	Window domain.Window `json:"window"`
}

// Command is a request from a caller (CLI or HTTP API) to the
// coordinator. Commands only travel inward; results come back as
// Events or as state changes.
type Command interface{ isCommand() }

// StartDownload begins a new run over the given items. Ignored when a
// run is already active.
type StartDownload struct {
	Items  []QueueItem
	OutDir string
}

// PauseDownload suspends all active sessions.
type PauseDownload struct{}

// ResumeDownload lifts a pause.
type ResumeDownload struct{}

// StopDownload aborts the current run. The stop flag is one-way: once
// set, workers wind down and the run cannot be resumed, only restarted.
type StopDownload struct{}

// SkipURL asks the worker holding the given index to abandon it and
// move on. The flag clears itself once a worker consumes it.
type SkipURL struct {
	Index int
}

func (StartDownload) isCommand()  {}
func (PauseDownload) isCommand()  {}
func (ResumeDownload) isCommand() {}
func (StopDownload) isCommand()   {}
func (SkipURL) isCommand()        {}

// Task is one unit of work handed from the coordinator to a worker.
type Task struct {
	RunID  string
	Item   QueueItem
	OutDir string
}

// EventKind routes an Event to its registered handler.
type EventKind string

const (
	EventProgress          EventKind = "progress"
	EventCompleted         EventKind = "completed"
	EventError             EventKind = "error"
	EventSequenceCompleted EventKind = "sequence_completed"
)

// Event is a worker or coordinator report flowing back out to the
// caller. Events with no registered handler are dropped on poll.
type Event interface {
	Kind() EventKind
}

// ProgressEvent reports page-level progress for one session.
type ProgressEvent struct {
	Index   int
	URL     string
	Current int
	Total   int
}

// CompletedEvent reports a session reaching a terminal success state,
// including skips.
type CompletedEvent struct {
	Index   int
	URL     string
	Skipped bool
}

// ErrorEvent reports a session failing.
type ErrorEvent struct {
	Index int
	URL   string
	Err   error
}

// SequenceCompletedEvent reports the whole run finishing, however it
// ended.
type SequenceCompletedEvent struct {
	RunID     string
	Completed int
	Errors    int
	Stopped   bool
}

func (ProgressEvent) Kind() EventKind          { return EventProgress }
func (CompletedEvent) Kind() EventKind         { return EventCompleted }
func (ErrorEvent) Kind() EventKind             { return EventError }
func (SequenceCompletedEvent) Kind() EventKind { return EventSequenceCompleted }
