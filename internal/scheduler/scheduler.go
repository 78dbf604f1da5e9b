// Package scheduler runs git actions across many repositories with bounded
// concurrency. Workers report progress as events through a mailbox; all
// per-path state is owned by the single goroutine that calls Submit and
// Drain.
package scheduler

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/skaphos/repofleet/internal/engine"
	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/mailbox"
	"github.com/skaphos/repofleet/internal/model"
)

const (
	// DefaultLimit bounds concurrent write operations when Submit is
	// called with a non-positive limit.
	DefaultLimit = 5
	// DefaultLogLines caps the captured output kept per path.
	DefaultLogLines = 2000
)

// Executor applies a single-shot action to one repository.
type Executor interface {
	Apply(ctx context.Context, action model.Action, target string) (engine.Outcome, error)
}

// Options configures a Scheduler.
type Options struct {
	// Executor handles fetch, merge and status.
	Executor Executor
	// Spawner launches the streamed fetch and pull of an update.
	Spawner gitx.Spawner
	// PullRebase selects `git pull --rebase` for updates.
	PullRebase bool
	// DefaultLimit replaces non-positive limits passed to Submit.
	DefaultLimit int
	// LogLines caps each path's captured output.
	LogLines int
	Logger   *zap.Logger
}

// Scheduler fans tasks out to workers. Submit, Drain and the accessors must
// be called from one goroutine; workers only ever send events.
type Scheduler struct {
	opts   Options
	logger *zap.Logger
	events *mailbox.Mailbox[model.SyncEvent]
	gates  map[int]*semaphore.Weighted

	states   map[string]model.SyncState
	logs     map[string]*ringLog
	inFlight int
	total    int
	done     int

	wg sync.WaitGroup
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Spawner == nil {
		opts.Spawner = &gitx.GitSpawner{}
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.LogLines <= 0 {
		opts.LogLines = DefaultLogLines
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		opts:   opts,
		logger: logger,
		events: mailbox.New[model.SyncEvent](),
		gates:  make(map[int]*semaphore.Weighted),
		states: make(map[string]model.SyncState),
		logs:   make(map[string]*ringLog),
	}
}

// Submit starts a worker for every task whose path has nothing pending or
// running and returns how many were accepted. Tasks sharing a limit share
// one semaphore.
func (s *Scheduler) Submit(tasks []model.SyncTask, limit int) int {
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	gate, ok := s.gates[limit]
	if !ok {
		gate = semaphore.NewWeighted(int64(limit))
		s.gates[limit] = gate
	}
	if s.inFlight == 0 {
		s.total = 0
		s.done = 0
	}

	accepted := 0
	for _, task := range tasks {
		if task.Path == "" {
			continue
		}
		if state, ok := s.states[task.Path]; ok && state.InFlight() {
			s.logger.Debug("task already in flight", zap.String("path", task.Path))
			continue
		}
		s.states[task.Path] = model.SyncState{Phase: model.PhasePending}
		if log, ok := s.logs[task.Path]; ok {
			log.Reset()
		}
		s.inFlight++
		s.total++
		accepted++

		s.wg.Add(1)
		go s.work(gate, task)
	}
	return accepted
}

func (s *Scheduler) work(gate *semaphore.Weighted, task model.SyncTask) {
	defer s.wg.Done()
	// Background never cancels, so Acquire only returns once a permit is free.
	_ = gate.Acquire(context.Background(), 1)
	defer gate.Release(1)

	log := s.logger.With(zap.String("path", task.Path), zap.String("action", string(task.Action)))
	if task.Action == model.ActionUpdate {
		s.streamUpdate(task.Path, log)
		return
	}
	s.delegate(task, log)
}

// streamUpdate runs each pull step as a spawned process, forwarding output
// line by line.
func (s *Scheduler) streamUpdate(path string, log *zap.Logger) {
	var summary gitx.OutputSummary
	started := false
	for _, args := range gitx.PullSteps(s.opts.PullRebase) {
		proc, err := s.opts.Spawner.Spawn(context.Background(), path, args...)
		if err != nil {
			log.Warn("spawn failed", zap.Strings("args", args), zap.Error(err))
			msg := err.Error()
			if started {
				s.send(model.Line(path, msg))
			}
			s.send(model.Finished(path, 1, &msg))
			return
		}
		log.Debug("spawned", zap.Strings("args", args))
		if !started {
			s.send(model.Started(path))
			started = true
		}

		scanner := gitx.NewLineScanner(proc.Output())
		for scanner.Scan() {
			line := scanner.Text()
			summary.Observe(line)
			s.send(model.Line(path, line))
		}
		if err := scanner.Err(); err != nil {
			log.Warn("output read failed", zap.Error(err))
			_, _ = io.Copy(io.Discard, proc.Output())
		}

		code, err := proc.Wait()
		if err != nil {
			log.Warn("wait failed", zap.Error(err))
		}
		log.Debug("exited", zap.Strings("args", args), zap.Int("code", code))
		if code != 0 {
			s.send(model.Finished(path, code, summary.Message(code)))
			return
		}
	}
	s.send(model.Finished(path, 0, summary.Message(0)))
}

// delegate hands a single-shot action to the executor. Started is sent when
// the executor launches its first git process, so a launch failure finishes
// the task without ever reporting it as running.
func (s *Scheduler) delegate(task model.SyncTask, log *zap.Logger) {
	path := task.Path
	var (
		once    sync.Once
		started atomic.Bool
	)
	markStarted := func() {
		once.Do(func() {
			started.Store(true)
			s.send(model.Started(path))
		})
	}
	ctx := gitx.WithStartNotifier(context.Background(), markStarted)

	out, err := s.opts.Executor.Apply(ctx, task.Action, path)
	if err == nil || started.Load() {
		markStarted()
	}
	var summary gitx.OutputSummary
	for _, line := range out.Lines {
		summary.Observe(line)
		s.send(model.Line(path, line))
	}

	if err == nil {
		log.Debug("finished")
		s.send(model.Finished(path, 0, summary.Message(0)))
		return
	}

	code := 1
	msg := err.Error()
	var actionErr *engine.ActionError
	if errors.As(err, &actionErr) {
		code = actionErr.ExitCode()
		msg = actionErr.Message()
	}
	if started.Load() {
		log.Debug("failed", zap.Int("code", code), zap.Error(err))
	} else {
		log.Warn("failed before launch", zap.Error(err))
	}
	s.send(model.Finished(path, code, &msg))
}

func (s *Scheduler) send(ev model.SyncEvent) {
	if !s.events.Send(ev) {
		s.logger.Debug("event dropped after close", zap.String("path", ev.Path), zap.String("kind", string(ev.Kind)))
	}
}

// Drain applies every queued event to the per-path state and returns them.
func (s *Scheduler) Drain() []model.SyncEvent {
	events := s.events.Drain()
	for _, ev := range events {
		switch ev.Kind {
		case model.EventStarted:
			s.states[ev.Path] = model.SyncState{Phase: model.PhaseRunning}
		case model.EventLine:
			s.logFor(ev.Path).Append(ev.Text)
		case model.EventFinished:
			s.states[ev.Path] = model.SyncState{Phase: model.PhaseDone, ExitCode: ev.ExitCode, Message: ev.Message}
			s.done++
			if s.inFlight > 0 {
				s.inFlight--
			}
		}
	}
	return events
}

func (s *Scheduler) logFor(path string) *ringLog {
	log, ok := s.logs[path]
	if !ok {
		log = newRingLog(s.opts.LogLines)
		s.logs[path] = log
	}
	return log
}

// Ready is signalled when events are waiting to be drained.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.events.Ready()
}

// State returns the last known state for path.
func (s *Scheduler) State(path string) (model.SyncState, bool) {
	state, ok := s.states[path]
	return state, ok
}

// States returns a copy of every known state keyed by path.
func (s *Scheduler) States() map[string]model.SyncState {
	out := make(map[string]model.SyncState, len(s.states))
	for path, state := range s.states {
		out[path] = state
	}
	return out
}

// Paths returns every path with a recorded state, sorted.
func (s *Scheduler) Paths() []string {
	paths := make([]string, 0, len(s.states))
	for path := range s.states {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Log returns the captured output for path, oldest line first.
func (s *Scheduler) Log(path string) []string {
	log, ok := s.logs[path]
	if !ok {
		return nil
	}
	return log.Lines()
}

// Progress reports finished and submitted task counts for the current batch.
// The counters reset when a Submit arrives while nothing is in flight.
func (s *Scheduler) Progress() (done, total int) {
	return s.done, s.total
}

// Running counts paths whose worker holds a permit.
func (s *Scheduler) Running() int {
	n := 0
	for _, state := range s.states {
		if state.Phase == model.PhaseRunning {
			n++
		}
	}
	return n
}

// Idle reports whether nothing is pending or running.
func (s *Scheduler) Idle() bool {
	return s.inFlight == 0
}

// Wait blocks until every started worker has returned. Events they sent
// are still queued for Drain.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close stops accepting events. Running workers finish their subprocesses
// and their events are discarded.
func (s *Scheduler) Close() {
	s.events.Close()
}
