package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/quarteridge/galleryd/internal/domain"
	"github.com/quarteridge/galleryd/internal/infra/config"
	"github.com/quarteridge/galleryd/internal/infra/logger"
	"github.com/quarteridge/galleryd/internal/state"
)

// Fetcher resolves a gallery URL to its page count and retrieves
// individual pages.
type Fetcher interface {
	Resolve(ctx context.Context, url string) (title string, pages int, err error)
	FetchPage(ctx context.Context, url string, page int, destDir string) error
}

// pausePoll is how often a paused worker rechecks the pause flag.
const pausePoll = 100 * time.Millisecond

// run is the mutable context of one download sequence. Flags live here
// rather than on the Scheduler so a new run always starts clean.
type run struct {
	id    string
	tasks chan Task

	// stop is one-way for the lifetime of the run.
	stop atomic.Bool

	// skip holds index+1 of the session to abandon, 0 when unset. A
	// worker claims it with CompareAndSwap, which also clears it.
	skip atomic.Int64

	completed atomic.Int64
	errored   atomic.Int64
}

func (r *run) skipRequested(index int) bool {
	return r.skip.CompareAndSwap(int64(index)+1, 0)
}

// Scheduler is the coordinator between callers, the worker pool, and
// the state store. Callers talk to it over the command channel and
// read results off the event channel; workers only ever see tasks.
type Scheduler struct {
	cfg     *config.Config
	log     *logger.Logger
	state   *state.Store
	fetcher Fetcher

	commands chan Command
	events   chan Event

	mu      sync.Mutex
	current *run

	handlersMu sync.Mutex
	handlers   map[EventKind]func(Event)
}

func New(cfg *config.Config, log *logger.Logger, st *state.Store, f Fetcher) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		state:    st,
		fetcher:  f,
		commands: make(chan Command, cfg.Download.CommandBuffer),
		events:   make(chan Event, cfg.Download.EventBuffer),
		handlers: make(map[EventKind]func(Event)),
	}
}

// Send queues a command for the coordinator without blocking. A full
// command channel drops the command with a warning.
func (s *Scheduler) Send(cmd Command) {
	select {
	case s.commands <- cmd:
	default:
		s.log.Warn("command channel full, dropping %T", cmd)
	}
}

// RegisterHandler installs the handler for one event kind, replacing
// any previous one.
func (s *Scheduler) RegisterHandler(kind EventKind, fn func(Event)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[kind] = fn
}

// PollEvents drains the event channel without blocking, dispatching
// each event to its registered handler. Events of an unregistered kind
// are dropped. Returns the number of events consumed.
func (s *Scheduler) PollEvents() int {
	n := 0
	for {
		select {
		case ev := <-s.events:
			n++
			s.handlersMu.Lock()
			fn := s.handlers[ev.Kind()]
			s.handlersMu.Unlock()
			if fn == nil {
				s.log.Debug("no handler for %s event, dropping", ev.Kind())
				continue
			}
			fn(ev)
		default:
			return n
		}
	}
}

func (s *Scheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event channel full, dropping %s", ev.Kind())
	}
}

// Run is the coordinator loop. It owns command dispatch and run
// lifecycle and exits when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started, %d workers", s.cfg.Download.Workers)

	poll := s.cfg.Download.PollTimeout()
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return ctx.Err()
		case <-ticker.C:
			// Idle wakeup.
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case StartDownload:
		s.startRun(ctx, c)
	case PauseDownload:
		if s.state.IsRunning() {
			s.state.SetPaused(true)
		}
	case ResumeDownload:
		s.state.SetPaused(false)
	case StopDownload:
		s.stopCurrent()
	case SkipURL:
		s.mu.Lock()
		r := s.current
		s.mu.Unlock()
		if r != nil {
			r.skip.Store(int64(c.Index) + 1)
		}
	default:
		s.log.Warn("unknown command %T", cmd)
	}
}

func (s *Scheduler) stopCurrent() {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return
	}
	r.stop.Store(true)
	// Paused workers spin on the pause flag; lift it so they can see
	// the stop flag and exit.
	s.state.SetPaused(false)
}

func (s *Scheduler) startRun(ctx context.Context, cmd StartDownload) {
	if len(cmd.Items) == 0 {
		s.log.Warn("start requested with no items")
		return
	}

	outDir := cmd.OutDir
	if outDir == "" {
		outDir = s.cfg.Download.OutDir
	}

	r := &run{
		id:    ksuid.New().String(),
		tasks: make(chan Task, s.cfg.Download.TaskBuffer),
	}
	// The store applies the running flag asynchronously, so the
	// installed run pointer is the authoritative guard against a
	// second start slipping in behind it.
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		s.log.Warn("start requested while a run is active, ignoring")
		return
	}
	s.current = r
	s.mu.Unlock()

	s.state.SetRunning(true)
	s.state.SetTotalURLs(len(cmd.Items))
	s.state.SetRunProgress(0, len(cmd.Items))

	s.log.Info("run %s started, %d urls", r.id, len(cmd.Items))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Download.Workers; i++ {
		g.Go(func() error {
			return s.worker(gctx, r)
		})
	}

	go func() {
		for _, item := range cmd.Items {
			select {
			case r.tasks <- Task{RunID: r.id, Item: item, OutDir: outDir}:
			case <-gctx.Done():
				close(r.tasks)
				return
			}
		}
		close(r.tasks)
	}()

	go func() {
		if err := g.Wait(); err != nil {
			s.log.Error("run %s worker pool: %v", r.id, err)
		}
		s.finishRun(r)
	}()
}

func (s *Scheduler) finishRun(r *run) {
	s.mu.Lock()
	if s.current == r {
		s.current = nil
	}
	s.mu.Unlock()

	s.state.SetPaused(false)
	s.state.SetRunning(false)

	completed := int(r.completed.Load())
	errored := int(r.errored.Load())
	stopped := r.stop.Load()
	s.log.Info("run %s finished: %d completed, %d errors, stopped=%t",
		r.id, completed, errored, stopped)
	s.emit(SequenceCompletedEvent{
		RunID:     r.id,
		Completed: completed,
		Errors:    errored,
		Stopped:   stopped,
	})
}

func (s *Scheduler) worker(ctx context.Context, r *run) error {
	for task := range r.tasks {
		if r.stop.Load() || ctx.Err() != nil {
			// Untouched tasks stay pending so a restart can pick
			// them back up.
			continue
		}
		s.processTask(ctx, r, task)
	}
	return nil
}

func (s *Scheduler) processTask(ctx context.Context, r *run, task Task) {
	idx := task.Item.Index
	url := task.Item.URL
	st := s.state

	st.SetCurrentIndex(idx)

	// The session clock starts when a worker picks the URL up, not
	// when the run is enqueued.
	st.EnsureSession(idx, url)
	if task.Item.Window.Enabled {
		st.SetWindow(idx, task.Item.Window)
	}

	if !s.waitWhilePaused(ctx, r) {
		s.finishIncomplete(idx)
		return
	}
	if r.skipRequested(idx) {
		s.finishSkipped(r, idx, url)
		return
	}

	title, pages, err := s.resolveWithRetry(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			s.finishIncomplete(idx)
			return
		}
		s.finishError(r, idx, url, fmt.Errorf("resolving %s: %w", url, err))
		return
	}
	st.SetTitle(idx, title)

	first, last := pageRange(task.Item.Window, pages)
	st.UpdateProgress(idx, 0, pages)

	delay := s.cfg.Download.PageDelay()
	for page := first; page <= last; page++ {
		// Cancellation and stop leave the same mark: the folder is
		// partial and the session ends Incomplete, not Downloading.
		if r.stop.Load() || ctx.Err() != nil {
			s.finishIncomplete(idx)
			return
		}
		if r.skipRequested(idx) {
			s.finishSkipped(r, idx, url)
			return
		}
		if !s.waitWhilePaused(ctx, r) {
			s.finishIncomplete(idx)
			return
		}

		if err := s.fetchWithRetry(ctx, url, page, task.OutDir); err != nil {
			if ctx.Err() != nil {
				s.finishIncomplete(idx)
				return
			}
			s.finishError(r, idx, url, fmt.Errorf("page %d of %s: %w", page, url, err))
			return
		}
		st.UpdateProgress(idx, page, pages)
		s.emit(ProgressEvent{Index: idx, URL: url, Current: page, Total: pages})

		if delay > 0 && page < last {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				s.finishIncomplete(idx)
				return
			}
		}
	}

	st.SetURLStatus(idx, domain.StatusCompleted)
	r.completed.Add(1)
	st.SetRunProgress(int(r.completed.Load())+int(r.errored.Load()), st.TotalURLs())
	s.emit(CompletedEvent{Index: idx, URL: url})
}

func (s *Scheduler) finishSkipped(r *run, idx int, url string) {
	s.state.SetURLStatus(idx, domain.StatusSkipped)
	r.completed.Add(1)
	s.state.SetRunProgress(int(r.completed.Load())+int(r.errored.Load()), s.state.TotalURLs())
	s.emit(CompletedEvent{Index: idx, URL: url, Skipped: true})
}

func (s *Scheduler) finishIncomplete(idx int) {
	s.state.SetIncomplete(idx, true)
	s.state.SetURLStatus(idx, domain.StatusIncomplete)
}

func (s *Scheduler) finishError(r *run, idx int, url string, err error) {
	s.log.Error("download failed: %v", err)
	s.state.MarkError(idx, err.Error())
	r.errored.Add(1)
	s.state.SetRunProgress(int(r.completed.Load())+int(r.errored.Load()), s.state.TotalURLs())
	s.emit(ErrorEvent{Index: idx, URL: url, Err: err})
}

// waitWhilePaused blocks while the global pause flag is set. Returns
// false when the run was stopped or cancelled while waiting.
func (s *Scheduler) waitWhilePaused(ctx context.Context, r *run) bool {
	for s.state.IsPaused() {
		if r.stop.Load() || ctx.Err() != nil {
			return false
		}
		select {
		case <-time.After(pausePoll):
		case <-ctx.Done():
			return false
		}
	}
	return !r.stop.Load() && ctx.Err() == nil
}

func (s *Scheduler) resolveWithRetry(ctx context.Context, url string) (string, int, error) {
	var title string
	var pages int
	err := s.withRetry(ctx, func() error {
		var rerr error
		title, pages, rerr = s.fetcher.Resolve(ctx, url)
		return rerr
	})
	return title, pages, err
}

func (s *Scheduler) fetchWithRetry(ctx context.Context, url string, page int, destDir string) error {
	return s.withRetry(ctx, func() error {
		return s.fetcher.FetchPage(ctx, url, page, destDir)
	})
}

func (s *Scheduler) withRetry(ctx context.Context, fn func() error) error {
	var err error
	retries := s.cfg.Download.MaxRetries
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		backoff := time.Duration(attempt+1) * time.Second
		s.log.Warn("attempt %d/%d failed: %v, retrying in %s",
			attempt+1, retries+1, err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// pageRange maps a window onto the resolved page count. Pages are
// 1-based; End <= 0 means through the last page.
func pageRange(w domain.Window, pages int) (first, last int) {
	first, last = 1, pages
	if !w.Enabled {
		return first, last
	}
	if w.Start > 1 {
		first = w.Start
	}
	if w.End > 0 && w.End < pages {
		last = w.End
	}
	if first > last {
		first = last
	}
	return first, last
}
