package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/quarteridge/galleryd/internal/domain"
	"github.com/quarteridge/galleryd/internal/infra/logger"
)

// AppState is the coarse aggregate state of the whole run.
type AppState string

const (
	AppIdle    AppState = "idle"
	AppRunning AppState = "running"
	AppPaused  AppState = "paused"
	AppError   AppState = "error"
)

// Snapshot is the export shape consumed by the persistence layer and
// the HTTP API. It round-trips every session field except the live
// pause-start timestamp, which is only meaningful in-process.
type Snapshot struct {
	Sessions  map[int]domain.Session `json:"sessions"`
	Timestamp time.Time              `json:"timestamp"`
}

// Store is the single authority over all mutable download state.
//
// Every mutation arrives as a Message on one channel and is applied by
// exactly one consumer goroutine, which yields a total order over all
// mutations equal to their arrival order. Fast-path getters take a
// short read lock over the authoritative fields only and never wait on
// the message channel. Observer callbacks run after the lock is
// released, against a snapshot of the subscriber list.
type Store struct {
	mu       sync.RWMutex
	registry *domain.Registry

	appState     AppState
	running      bool
	paused       bool
	currentIndex int
	totalURLs    int
	runCurrent   int
	runTotal     int

	globalPauseStart time.Time
	totalPaused      time.Duration

	messages chan envelope

	obsMu     sync.Mutex
	observers []Observer

	logger      *logger.Logger
	pollTimeout time.Duration

	done     chan struct{}
	stopOnce sync.Once
	drained  sync.WaitGroup
}

// flush is an internal barrier: the consumer closes the channel once
// every message posted before it has been applied.
type flush struct {
	done chan struct{}
}

func (flush) isMessage() {}

// New builds a store with the given mutation queue capacity and
// consumer idle-poll timeout. Zero values pick the defaults. Call
// Start before posting.
func New(log *logger.Logger, queueSize int, pollTimeout time.Duration) *Store {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if pollTimeout <= 0 {
		pollTimeout = 100 * time.Millisecond
	}
	return &Store{
		registry:    domain.NewRegistry(),
		appState:    AppIdle,
		messages:    make(chan envelope, queueSize),
		logger:      log,
		pollTimeout: pollTimeout,
		done:        make(chan struct{}),
	}
}

// Start launches the single consumer goroutine.
func (s *Store) Start() {
	s.drained.Add(1)
	go s.consume()
}

// Stop shuts the consumer down after draining already-queued messages.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.drained.Wait()
}

// Post enqueues one mutation, stamped with its arrival time. It is
// fire-and-forget: the caller never mutates state directly and learns
// about the outcome by reading state afterward.
func (s *Store) Post(msg Message) {
	env := envelope{msg: msg, at: time.Now()}
	select {
	case s.messages <- env:
	case <-s.done:
		// Store stopped; late mutations are dropped.
	}
}

// Sync blocks until every message posted before it has been applied.
func (s *Store) Sync() {
	barrier := flush{done: make(chan struct{})}
	s.Post(barrier)
	select {
	case <-barrier.done:
	case <-s.done:
	}
}

func (s *Store) consume() {
	defer s.drained.Done()

	ticker := time.NewTicker(s.pollTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case env := <-s.messages:
					s.applyOne(env)
				default:
					return
				}
			}
		case env := <-s.messages:
			s.applyOne(env)
		case <-ticker.C:
			// Idle wakeup.
		}
	}
}

// applyOne applies exactly one message inside its own failure boundary.
// A rejected or panicking mutation is logged and discarded; the
// consumer keeps draining no matter what.
func (s *Store) applyOne(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state: message %T dropped after panic: %v", env.msg, r)
		}
	}()

	notes, err := s.applyLocked(env)
	if err != nil {
		s.logger.Warn("state: message %T rejected: %v", env.msg, err)
		return
	}
	s.dispatch(notes)
}

func (s *Store) applyLocked(env envelope) ([]notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle(env.msg, env.at)
}

// handle is the single consumption point for the closed message set.
// It runs with the state lock held and returns the notifications to
// dispatch once the lock is released.
func (s *Store) handle(msg Message, at time.Time) ([]notification, error) {
	switch m := msg.(type) {
	case EnsureSession:
		sess, created := s.registry.Ensure(m.Index, m.SourceURL)
		if !created {
			return nil, nil
		}
		old := sess.Status
		if _, err := sess.StartAt(at); err != nil {
			return nil, fmt.Errorf("start session %d: %w", m.Index, err)
		}
		return []notification{statusNote(StatusChange{
			Index: m.Index, SourceURL: sess.SourceURL, Old: old, New: sess.Status,
		})}, nil

	case UpdateProgress:
		// First progress report for an index creates the session.
		sess, created := s.registry.Ensure(m.Index, "")
		if created {
			sess.StartAt(at)
		}
		sess.UpdateProgress(m.Current, m.Total)
		return []notification{progressNote(s.progressPayload(sess))}, nil

	case SetTitle:
		sess, ok := s.registry.Live(m.Index)
		if !ok {
			return nil, fmt.Errorf("set title %d: %w", m.Index, domain.ErrMissingSession)
		}
		sess.Title = m.Title
		return []notification{progressNote(s.progressPayload(sess))}, nil

	case SetStatus:
		sess, ok := s.registry.Live(m.Index)
		if !ok {
			return nil, fmt.Errorf("set status %d: %w", m.Index, domain.ErrMissingSession)
		}
		old := sess.Status
		changed, err := sess.SetStatus(m.Status, at)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", m.Index, err)
		}
		if !changed {
			return nil, nil
		}
		return []notification{statusNote(StatusChange{
			Index: m.Index, SourceURL: sess.SourceURL, Old: old, New: sess.Status,
		})}, nil

	case MarkError:
		sess, ok := s.registry.Live(m.Index)
		if !ok {
			return nil, fmt.Errorf("mark error %d: %w", m.Index, domain.ErrMissingSession)
		}
		old := sess.Status
		if sess.Status == domain.StatusPaused {
			if _, err := sess.ResumeAt(at); err != nil {
				return nil, fmt.Errorf("session %d: %w", m.Index, err)
			}
		}
		changed, err := sess.MarkError(m.Message)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", m.Index, err)
		}
		if !changed {
			return nil, nil
		}
		return []notification{statusNote(StatusChange{
			Index: m.Index, SourceURL: sess.SourceURL, Old: old, New: sess.Status,
		})}, nil

	case SetWindow:
		sess, ok := s.registry.Live(m.Index)
		if !ok {
			return nil, fmt.Errorf("set window %d: %w", m.Index, domain.ErrMissingSession)
		}
		sess.SetWindow(m.Window)
		return []notification{progressNote(s.progressPayload(sess))}, nil

	case ClearWindow:
		sess, ok := s.registry.Live(m.Index)
		if !ok {
			return nil, fmt.Errorf("clear window %d: %w", m.Index, domain.ErrMissingSession)
		}
		sess.ClearWindow()
		return []notification{progressNote(s.progressPayload(sess))}, nil

	case SetDestination:
		sess, ok := s.registry.Live(m.Index)
		if !ok {
			return nil, fmt.Errorf("set destination %d: %w", m.Index, domain.ErrMissingSession)
		}
		sess.DestinationPath = m.Path
		return nil, nil

	case SetIncomplete:
		sess, ok := s.registry.Live(m.Index)
		if !ok {
			return nil, fmt.Errorf("set incomplete %d: %w", m.Index, domain.ErrMissingSession)
		}
		sess.FolderIncomplete = m.Incomplete
		return nil, nil

	case SetRunning:
		s.running = m.Running
		if !m.Running {
			s.paused = false
		}
		s.recomputeAppState()
		return nil, nil

	case SetPaused:
		return s.handleSetPaused(m.Paused, at)

	case SetCurrentIndex:
		s.currentIndex = m.Index
		return nil, nil

	case SetTotalURLs:
		s.totalURLs = m.Total
		return nil, nil

	case SetRunProgress:
		s.runCurrent, s.runTotal = m.Current, m.Total
		return nil, nil

	case RemoveSession:
		s.registry.Remove(m.Index)
		return nil, nil

	case ResetAll:
		s.registry.Clear()
		s.running = false
		s.paused = false
		s.currentIndex = 0
		s.totalURLs = 0
		s.runCurrent, s.runTotal = 0, 0
		s.globalPauseStart = time.Time{}
		s.totalPaused = 0
		s.appState = AppIdle
		return nil, nil

	case ImportSnapshot:
		s.registry.Clear()
		notes := make([]notification, 0, len(m.Snapshot.Sessions))
		for _, sess := range m.Snapshot.Sessions {
			s.registry.Set(sess)
			live, _ := s.registry.Live(sess.Index)
			notes = append(notes, progressNote(s.progressPayload(live)))
		}
		return notes, nil

	case flush:
		close(m.done)
		return nil, nil

	default:
		return nil, fmt.Errorf("unhandled message type %T", msg)
	}
}

// handleSetPaused applies the aggregate pause/resume accounting to the
// whole active set. Pausing while paused (and the converse) is a no-op.
func (s *Store) handleSetPaused(paused bool, at time.Time) ([]notification, error) {
	if paused == s.paused {
		return nil, nil
	}

	var notes []notification

	if paused {
		s.paused = true
		s.globalPauseStart = at
		s.registry.Each(func(sess *domain.Session) {
			if !sess.Status.Active() {
				return
			}
			old := sess.Status
			if _, err := sess.PauseAt(at); err != nil {
				s.logger.Warn("state: pause session %d: %v", sess.Index, err)
				return
			}
			notes = append(notes, statusNote(StatusChange{
				Index: sess.Index, SourceURL: sess.SourceURL, Old: old, New: sess.Status,
			}))
		})
	} else {
		s.paused = false
		if !s.globalPauseStart.IsZero() {
			s.totalPaused += at.Sub(s.globalPauseStart)
			s.globalPauseStart = time.Time{}
		}
		s.registry.Each(func(sess *domain.Session) {
			if sess.Status != domain.StatusPaused {
				return
			}
			old := sess.Status
			if _, err := sess.ResumeAt(at); err != nil {
				s.logger.Warn("state: resume session %d: %v", sess.Index, err)
				return
			}
			notes = append(notes, statusNote(StatusChange{
				Index: sess.Index, SourceURL: sess.SourceURL, Old: old, New: sess.Status,
			}))
		})
	}

	s.recomputeAppState()
	return notes, nil
}

func (s *Store) recomputeAppState() {
	switch {
	case s.running && s.paused:
		s.appState = AppPaused
	case s.running:
		s.appState = AppRunning
	default:
		s.appState = AppIdle
		s.registry.Each(func(sess *domain.Session) {
			if sess.Status == domain.StatusError {
				s.appState = AppError
			}
		})
	}
}

// progressPayload builds the observer payload for a session. Caller
// holds the state lock.
func (s *Store) progressPayload(sess *domain.Session) ProgressUpdate {
	return ProgressUpdate{
		Index:           sess.Index,
		SourceURL:       sess.SourceURL,
		Title:           sess.Title,
		Current:         sess.AbsoluteCurrent,
		Total:           sess.AbsoluteTotal,
		RelativeCurrent: sess.RelativeCurrent,
		RelativeTotal:   sess.RelativeTotal,
		Status:          sess.Status,
	}
}
