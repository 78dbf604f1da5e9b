package health

import (
	"strings"

	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/sortutil"
)

// Requester schedules background probes. *Prober satisfies it.
type Requester interface {
	Probe(paths []string) int
}

// Aggregator owns the per-path health map and the sorted, filtered view
// with its selection. It is not safe for concurrent use; the control loop
// feeds it drained events.
type Aggregator struct {
	prober  Requester
	targets []model.RepoTarget
	health  map[string]model.RepoHealth
	errs    map[string]error

	sorted   []model.RepoTarget
	visible  []model.RepoTarget
	filter   string
	selected string
}

// NewAggregator creates an Aggregator. prober may be nil, in which case
// Finished events do not trigger probes.
func NewAggregator(prober Requester) *Aggregator {
	return &Aggregator{
		prober: prober,
		health: make(map[string]model.RepoHealth),
		errs:   make(map[string]error),
	}
}

// SetTargets replaces the displayed targets. Health for paths no longer
// present is forgotten.
func (a *Aggregator) SetTargets(targets []model.RepoTarget) {
	a.targets = append([]model.RepoTarget(nil), targets...)
	keep := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		keep[t.Path] = struct{}{}
	}
	for path := range a.health {
		if _, ok := keep[path]; !ok {
			delete(a.health, path)
		}
	}
	for path := range a.errs {
		if _, ok := keep[path]; !ok {
			delete(a.errs, path)
		}
	}
	a.resort()
}

// Targets returns every target in attention-first order, ignoring the filter.
func (a *Aggregator) Targets() []model.RepoTarget {
	return append([]model.RepoTarget(nil), a.sorted...)
}

// Refresh probes every git working tree among the targets.
func (a *Aggregator) Refresh() int {
	if a.prober == nil {
		return 0
	}
	var paths []string
	for _, t := range a.targets {
		if t.Repo {
			paths = append(paths, t.Path)
		}
	}
	return a.prober.Probe(paths)
}

// ApplyEvent reacts to scheduler events. A finished task re-probes only
// its own path.
func (a *Aggregator) ApplyEvent(ev model.SyncEvent) {
	if ev.Kind != model.EventFinished || a.prober == nil {
		return
	}
	a.prober.Probe([]string{ev.Path})
}

// ApplyUpdate records a probe result and reports whether the view changed.
func (a *Aggregator) ApplyUpdate(u Update) bool {
	if u.Err != nil {
		a.errs[u.Path] = u.Err
		return false
	}
	delete(a.errs, u.Path)
	return a.ApplyHealthUpdate(u.Path, u.Health)
}

// ApplyHealthUpdate stores h for path. The view is re-sorted only when the
// value differs from what was stored; the result reports whether it did.
func (a *Aggregator) ApplyHealthUpdate(path string, h model.RepoHealth) bool {
	if old, ok := a.health[path]; ok && old == h {
		return false
	}
	a.health[path] = h
	a.resort()
	return true
}

// Health returns the last probed health for path.
func (a *Aggregator) Health(path string) (model.RepoHealth, bool) {
	h, ok := a.health[path]
	return h, ok
}

// ProbeError returns the error of the most recent failed probe for path.
func (a *Aggregator) ProbeError(path string) error {
	return a.errs[path]
}

// SortedView returns the visible targets: attention first, then by path,
// restricted by the name filter.
func (a *Aggregator) SortedView() []model.RepoTarget {
	return append([]model.RepoTarget(nil), a.visible...)
}

// SetFilter restricts the view to targets with a name containing needle,
// ignoring case.
func (a *Aggregator) SetFilter(needle string) {
	a.filter = strings.ToLower(strings.TrimSpace(needle))
	a.applyFilter()
}

// Filter returns the active name filter.
func (a *Aggregator) Filter() string {
	return a.filter
}

func (a *Aggregator) attention(path string) bool {
	h, ok := a.health[path]
	return ok && h.NeedsAttention()
}

func (a *Aggregator) resort() {
	a.sorted = append(a.sorted[:0], a.targets...)
	sortutil.SortTargets(a.sorted, a.attention)
	a.applyFilter()
}

func (a *Aggregator) applyFilter() {
	a.visible = a.visible[:0]
	for _, t := range a.sorted {
		if a.matches(t) {
			a.visible = append(a.visible, t)
		}
	}
	if a.indexOf(a.selected) < 0 {
		a.selected = ""
		if len(a.visible) > 0 {
			a.selected = a.visible[0].Path
		}
	}
}

func (a *Aggregator) matches(t model.RepoTarget) bool {
	if a.filter == "" {
		return true
	}
	for _, name := range t.Names {
		if strings.Contains(strings.ToLower(name), a.filter) {
			return true
		}
	}
	return false
}

func (a *Aggregator) indexOf(path string) int {
	if path == "" {
		return -1
	}
	for i, t := range a.visible {
		if t.Path == path {
			return i
		}
	}
	return -1
}

// Select moves the selection to path if it is visible.
func (a *Aggregator) Select(path string) bool {
	if a.indexOf(path) < 0 {
		return false
	}
	a.selected = path
	return true
}

// Selected returns the selected target. The selection follows the path
// across re-sorts.
func (a *Aggregator) Selected() (model.RepoTarget, bool) {
	i := a.indexOf(a.selected)
	if i < 0 {
		return model.RepoTarget{}, false
	}
	return a.visible[i], true
}

// Next moves the selection one row down, stopping at the last row.
func (a *Aggregator) Next() {
	a.move(1)
}

// Prev moves the selection one row up, stopping at the first row.
func (a *Aggregator) Prev() {
	a.move(-1)
}

func (a *Aggregator) move(delta int) {
	i := a.indexOf(a.selected)
	if i < 0 {
		return
	}
	i += delta
	if i < 0 || i >= len(a.visible) {
		return
	}
	a.selected = a.visible[i].Path
}
