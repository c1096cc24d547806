package domain

import "fmt"

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusSkipped     Status = "skipped"
	StatusError       Status = "error"
	StatusIncomplete  Status = "incomplete"
)

// validTransitions is the full adjacency table for session statuses.
// Completed has no outgoing edges: it is the only terminal status.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusDownloading, StatusSkipped, StatusError, StatusPaused},
	StatusDownloading: {StatusCompleted, StatusError, StatusIncomplete, StatusSkipped, StatusPaused},
	StatusPaused:      {StatusDownloading, StatusSkipped},
	StatusError:       {StatusDownloading, StatusSkipped},
	StatusSkipped:     {StatusDownloading},
	StatusIncomplete:  {StatusDownloading},
	StatusCompleted:   {},
}

// ParseStatus normalizes a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := validTransitions[s]; !ok {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// IsTerminal reports whether the status has no outgoing edges.
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// Active reports whether a session in this status participates in a
// global pause (anything still in flight or waiting its turn).
func (s Status) Active() bool {
	return s == StatusPending || s == StatusDownloading
}

// CanTransition reports whether from -> to is an edge of the status
// machine. A same-status request is treated as already satisfied.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition (wrapped with both
// statuses) when from -> to is not an edge of the machine.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
