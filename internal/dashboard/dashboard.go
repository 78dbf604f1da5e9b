// Package dashboard is the control loop that owns the scheduler, the health
// prober and the aggregator. It drains their mailboxes on a fixed tick and
// hands a consistent snapshot to a draw callback.
package dashboard

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skaphos/repofleet/internal/health"
	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/scheduler"
)

// DefaultTick is the drain interval.
const DefaultTick = 100 * time.Millisecond

// ChangeSource reports repository paths whose metadata changed.
// *watch.Watcher satisfies it.
type ChangeSource interface {
	Drain() []string
}

// Row is one line of the dashboard.
type Row struct {
	Target   model.RepoTarget
	Health   model.RepoHealth
	Probed   bool
	ProbeErr error
	State    model.SyncState
	Tracked  bool
	LastLine string
	Selected bool
}

// Snapshot is everything a draw needs, taken after a drain.
type Snapshot struct {
	Rows    []Row
	Done    int
	Total   int
	Running int
	Idle    bool
}

// Options configures a Loop.
type Options struct {
	Scheduler *scheduler.Scheduler
	Prober    *health.Prober
	// Watcher is optional.
	Watcher ChangeSource
	Tick    time.Duration
	// WriteLimit bounds concurrent writes submitted through Run.
	WriteLimit int
	Logger     *zap.Logger
}

// Loop is not safe for concurrent use; all methods run on the control
// goroutine.
type Loop struct {
	sched   *scheduler.Scheduler
	prober  *health.Prober
	agg     *health.Aggregator
	watcher ChangeSource
	tick    time.Duration
	limit   int
	logger  *zap.Logger
}

// New creates a Loop over targets and starts the initial health probes.
func New(targets []model.RepoTarget, opts Options) *Loop {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(scheduler.Options{Logger: opts.Logger})
	}
	if opts.Prober == nil {
		opts.Prober = health.NewProber(nil, 0, opts.Logger)
	}
	l := &Loop{
		sched:   opts.Scheduler,
		prober:  opts.Prober,
		agg:     health.NewAggregator(opts.Prober),
		watcher: opts.Watcher,
		tick:    opts.Tick,
		limit:   opts.WriteLimit,
		logger:  opts.Logger,
	}
	l.agg.SetTargets(targets)
	l.agg.Refresh()
	return l
}

// Aggregator exposes the view for filtering and selection.
func (l *Loop) Aggregator() *health.Aggregator {
	return l.agg
}

// Scheduler exposes the scheduler for log access.
func (l *Loop) Scheduler() *scheduler.Scheduler {
	return l.sched
}

// Submit runs action on every visible git working tree and returns how many
// tasks were accepted.
func (l *Loop) Submit(action model.Action) int {
	var tasks []model.SyncTask
	for _, t := range l.agg.SortedView() {
		if t.Repo {
			tasks = append(tasks, model.SyncTask{Path: t.Path, Action: action})
		}
	}
	return l.sched.Submit(tasks, l.limit)
}

// SubmitSelected runs action on the selected target only.
func (l *Loop) SubmitSelected(action model.Action) int {
	t, ok := l.agg.Selected()
	if !ok || !t.Repo {
		return 0
	}
	return l.sched.Submit([]model.SyncTask{{Path: t.Path, Action: action}}, l.limit)
}

// Tick drains every source once without blocking and reports whether
// anything changed.
func (l *Loop) Tick() bool {
	changed := false
	for _, ev := range l.sched.Drain() {
		changed = true
		l.agg.ApplyEvent(ev)
	}
	if l.watcher != nil {
		if paths := l.watcher.Drain(); len(paths) > 0 {
			l.logger.Debug("metadata changed", zap.Strings("paths", paths))
			l.prober.Probe(paths)
		}
	}
	for _, u := range l.prober.Drain() {
		if u.Err != nil {
			changed = true
		}
		if l.agg.ApplyUpdate(u) {
			changed = true
		}
	}
	return changed
}

// Settled reports whether no task or probe is outstanding.
func (l *Loop) Settled() bool {
	return l.sched.Idle() && l.prober.Pending() == 0
}

// Snapshot builds the rows for the current view.
func (l *Loop) Snapshot() Snapshot {
	selected, hasSelection := l.agg.Selected()
	view := l.agg.SortedView()
	rows := make([]Row, 0, len(view))
	for _, t := range view {
		row := Row{Target: t}
		row.Health, row.Probed = l.agg.Health(t.Path)
		row.ProbeErr = l.agg.ProbeError(t.Path)
		row.State, row.Tracked = l.sched.State(t.Path)
		row.LastLine = lastLine(l.sched.Log(t.Path))
		row.Selected = hasSelection && selected.Path == t.Path
		rows = append(rows, row)
	}
	done, total := l.sched.Progress()
	return Snapshot{
		Rows:    rows,
		Done:    done,
		Total:   total,
		Running: l.sched.Running(),
		Idle:    l.sched.Idle(),
	}
}

func lastLine(log []string) string {
	for i := len(log) - 1; i >= 0; i-- {
		if strings.TrimSpace(log[i]) != "" {
			return log[i]
		}
	}
	return ""
}

// Run ticks until ctx is done, calling draw with a fresh snapshot after
// every tick that changed something, and once at start. until, when
// non-nil, ends the loop after a draw for which it returns true.
func (l *Loop) Run(ctx context.Context, draw func(Snapshot), until func(*Loop) bool) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	l.Tick()
	draw(l.Snapshot())
	if until != nil && until(l) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if l.Tick() {
			draw(l.Snapshot())
		}
		if until != nil && until(l) {
			return nil
		}
	}
}

// Close stops delivery from the scheduler and prober. Running subprocesses
// are not interrupted.
func (l *Loop) Close() {
	l.sched.Close()
	l.prober.Close()
}
