package domain

import "time"

// Window is an optional user-selected sub-range of a gallery. While
// enabled, the session's relative counters are measured against it
// instead of the full page count.
type Window struct {
	Enabled bool `json:"enabled"`
	Start   int  `json:"start"`
	End     int  `json:"end"`
}

// RelativeTotal computes the page count covered by the window. An end
// of 0 means "through the last page".
func (w Window) RelativeTotal(absoluteTotal int) int {
	if !w.Enabled {
		return absoluteTotal
	}
	end := w.End
	if end <= 0 {
		end = absoluteTotal
	}
	total := end - w.Start + 1
	if total < 0 {
		return 0
	}
	return total
}

// Session tracks the full lifecycle of one list item: identity,
// absolute and windowed progress, pause-aware time accounting, and a
// status governed by the transition table in status.go.
//
// Sessions are owned by the state store's consumer goroutine; every
// other tier sees value copies only. PauseStart is meaningful only
// in-process and is excluded from snapshots.
type Session struct {
	Index           int    `json:"index"`
	SourceURL       string `json:"source_url"`
	Title           string `json:"title"`
	DestinationPath string `json:"destination_path"`

	AbsoluteCurrent int `json:"absolute_current"`
	AbsoluteTotal   int `json:"absolute_total"`
	RelativeCurrent int `json:"relative_current"`
	RelativeTotal   int `json:"relative_total"`

	Window Window `json:"window"`

	StartTime      time.Time     `json:"start_time"`
	PausedDuration time.Duration `json:"paused_duration"`
	PauseStart     time.Time     `json:"-"`

	Status       Status `json:"status"`
	Completed    bool   `json:"completed"`
	ErrorMessage string `json:"error_message,omitempty"`

	FolderIncomplete bool `json:"folder_incomplete"`
	FolderCompleted  bool `json:"folder_completed"`
}

func NewSession(index int, sourceURL string) *Session {
	return &Session{
		Index:     index,
		SourceURL: sourceURL,
		Status:    StatusPending,
	}
}

// transitionTo validates and applies a status change. A same-status
// request is already satisfied and reports false so callers can skip
// duplicate notifications.
func (s *Session) transitionTo(next Status) (changed bool, err error) {
	if s.Status == next {
		return false, nil
	}
	if err := ValidateTransition(s.Status, next); err != nil {
		return false, err
	}
	s.Status = next
	return true, nil
}

// SetStatus moves the session along a status-machine edge, applying
// the side effects the target status implies.
//
// A pause can land between a worker's last page report and its
// terminal post. The outcome wins: a paused session is resumed before
// the terminal edge is taken, so the pause time stays accounted.
func (s *Session) SetStatus(next Status, at time.Time) (changed bool, err error) {
	switch next {
	case StatusCompleted, StatusError, StatusIncomplete:
		if s.Status == StatusPaused {
			if _, err := s.ResumeAt(at); err != nil {
				return false, err
			}
		}
	}
	switch next {
	case StatusCompleted:
		return s.Complete()
	case StatusError:
		return s.MarkError("download error")
	case StatusSkipped:
		return s.Skip()
	case StatusPaused:
		return s.PauseAt(at)
	case StatusDownloading:
		if !s.PauseStart.IsZero() {
			return s.ResumeAt(at)
		}
		return s.transitionTo(StatusDownloading)
	default:
		return s.transitionTo(next)
	}
}

// StartAt records the download start time and moves to Downloading.
func (s *Session) StartAt(at time.Time) (bool, error) {
	changed, err := s.transitionTo(StatusDownloading)
	if err != nil {
		return false, err
	}
	s.StartTime = at
	return changed, nil
}

// PauseAt marks the moment the pause began. The paused interval is
// accumulated on resume.
func (s *Session) PauseAt(at time.Time) (bool, error) {
	changed, err := s.transitionTo(StatusPaused)
	if err != nil {
		return false, err
	}
	s.PauseStart = at
	return changed, nil
}

// ResumeAt folds the just-finished pause interval into PausedDuration
// and moves back to Downloading.
func (s *Session) ResumeAt(at time.Time) (bool, error) {
	changed, err := s.transitionTo(StatusDownloading)
	if err != nil {
		return false, err
	}
	if !s.PauseStart.IsZero() {
		s.PausedDuration += at.Sub(s.PauseStart)
		s.PauseStart = time.Time{}
	}
	return changed, nil
}

// AddPausedTime accumulates an externally measured pause interval, used
// by the global pause/resume accounting where one delta applies to the
// whole active set.
func (s *Session) AddPausedTime(d time.Duration) {
	s.PausedDuration += d
	s.PauseStart = time.Time{}
}

// UpdateProgress sets the absolute counters and recomputes the windowed
// ones. A total <= 0 keeps the existing total.
func (s *Session) UpdateProgress(current, total int) {
	s.AbsoluteCurrent = current
	if total > 0 {
		s.AbsoluteTotal = total
	}
	s.recomputeWindow()
}

// SetWindow replaces the download window and recomputes the relative
// counters against it.
func (s *Session) SetWindow(w Window) {
	s.Window = w
	s.recomputeWindow()
}

// ClearWindow disables the window; relative counters mirror absolute
// ones again.
func (s *Session) ClearWindow() {
	s.Window = Window{}
	s.recomputeWindow()
}

func (s *Session) recomputeWindow() {
	s.RelativeTotal = s.Window.RelativeTotal(s.AbsoluteTotal)
	if !s.Window.Enabled {
		s.RelativeCurrent = s.AbsoluteCurrent
		return
	}
	if s.AbsoluteCurrent >= s.Window.Start {
		s.RelativeCurrent = s.AbsoluteCurrent - s.Window.Start + 1
	} else {
		s.RelativeCurrent = 1
	}
}

// Elapsed returns wall time since start excluding time spent paused,
// including the live portion of a pause still in progress.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.StartTime) - s.PausedDuration
	if !s.PauseStart.IsZero() {
		elapsed -= now.Sub(s.PauseStart)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// EstimatedRemaining projects the time left from the per-page rate so
// far. It is defined only while 0 < current < total with elapsed time
// on the clock; at completion it is pinned to zero.
func (s *Session) EstimatedRemaining(now time.Time) (time.Duration, bool) {
	current, total := s.AbsoluteCurrent, s.AbsoluteTotal
	if s.Window.Enabled {
		current, total = s.RelativeCurrent, s.RelativeTotal
	}
	if total > 0 && current >= total {
		return 0, true
	}
	if current <= 0 || total <= 0 {
		return 0, false
	}
	elapsed := s.Elapsed(now)
	if elapsed <= 0 {
		return 0, false
	}
	rate := elapsed / time.Duration(current)
	return rate * time.Duration(total-current), true
}

// Complete marks the terminal outcome and sets the derived folder
// flags.
func (s *Session) Complete() (bool, error) {
	changed, err := s.transitionTo(StatusCompleted)
	if err != nil {
		return false, err
	}
	s.Completed = true
	s.FolderCompleted = true
	s.FolderIncomplete = false
	return changed, nil
}

// MarkError records the failure message and flags the folder as
// incomplete.
func (s *Session) MarkError(msg string) (bool, error) {
	changed, err := s.transitionTo(StatusError)
	if err != nil {
		return false, err
	}
	s.ErrorMessage = msg
	s.FolderIncomplete = true
	return changed, nil
}

// Skip marks the item as skipped. Skipped and Completed are mutually
// exclusive outcomes: a later completion report is rejected by the
// transition table.
func (s *Session) Skip() (bool, error) {
	return s.transitionTo(StatusSkipped)
}
