// Package health probes working copies for branch and drift information
// and keeps the attention-first view the dashboard draws from.
package health

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/mailbox"
	"github.com/skaphos/repofleet/internal/model"
)

// DefaultProbeLimit bounds concurrent read-only probes.
const DefaultProbeLimit = 10

// Update is the result of probing one path.
type Update struct {
	Path   string
	Health model.RepoHealth
	Err    error
}

// Prober runs read-only git queries in the background. Probe and Drain
// must be called from the same goroutine.
type Prober struct {
	runner   gitx.Runner
	gate     *semaphore.Weighted
	updates  *mailbox.Mailbox[Update]
	inFlight map[string]struct{}
	// again holds in-flight paths asked for while their probe ran; each
	// gets one more probe once the running result is drained.
	again  map[string]struct{}
	logger *zap.Logger
}

// NewProber creates a Prober allowing limit concurrent probes.
func NewProber(runner gitx.Runner, limit int, logger *zap.Logger) *Prober {
	if runner == nil {
		runner = &gitx.GitRunner{}
	}
	if limit <= 0 {
		limit = DefaultProbeLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		runner:   runner,
		gate:     semaphore.NewWeighted(int64(limit)),
		updates:  mailbox.New[Update](),
		inFlight: make(map[string]struct{}),
		again:    make(map[string]struct{}),
		logger:   logger,
	}
}

// Probe schedules a probe for each path and returns how many were started.
// A path whose probe is still outstanding is probed again after that result
// is drained, since its answer may predate the request.
func (p *Prober) Probe(paths []string) int {
	started := 0
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		if _, busy := p.inFlight[path]; busy {
			p.again[path] = struct{}{}
			continue
		}
		p.start(path)
		started++
	}
	return started
}

func (p *Prober) start(path string) {
	p.inFlight[path] = struct{}{}
	go p.run(path)
}

func (p *Prober) run(path string) {
	_ = p.gate.Acquire(context.Background(), 1)
	defer p.gate.Release(1)

	h, err := ProbeOne(context.Background(), p.runner, path)
	if err != nil {
		p.logger.Debug("probe failed", zap.String("path", path), zap.Error(err))
	}
	p.updates.Send(Update{Path: path, Health: h, Err: err})
}

// Drain returns finished probes, allowing their paths to be probed again.
// Paths requested while in flight are re-probed here.
func (p *Prober) Drain() []Update {
	updates := p.updates.Drain()
	for _, u := range updates {
		delete(p.inFlight, u.Path)
		if _, ok := p.again[u.Path]; ok {
			delete(p.again, u.Path)
			p.logger.Debug("rechecking after drain", zap.String("path", u.Path))
			p.start(u.Path)
		}
	}
	return updates
}

// Pending reports how many probes have not been drained yet.
func (p *Prober) Pending() int {
	return len(p.inFlight)
}

// Ready is signalled when updates are waiting.
func (p *Prober) Ready() <-chan struct{} {
	return p.updates.Ready()
}

// Close discards updates from probes still running.
func (p *Prober) Close() {
	p.updates.Close()
}

// ProbeOne reads branch, upstream, dirtiness and ahead/behind counts for dir.
// Ahead and behind stay zero when the branch has no upstream.
func ProbeOne(ctx context.Context, runner gitx.Runner, dir string) (model.RepoHealth, error) {
	var h model.RepoHealth
	branch, err := gitx.CurrentBranch(ctx, runner, dir)
	if err != nil {
		return h, fmt.Errorf("probe %s: %w", dir, err)
	}
	h.Branch = branch

	upstream, ok, err := gitx.Upstream(ctx, runner, dir)
	if err != nil {
		return h, fmt.Errorf("probe %s: %w", dir, err)
	}
	h.Upstream = upstream

	wt, err := gitx.WorktreeStatus(ctx, runner, dir)
	if err != nil {
		return h, fmt.Errorf("probe %s: %w", dir, err)
	}
	h.Dirty = wt.Dirty

	if ok {
		if h.Ahead, h.Behind, err = gitx.AheadBehind(ctx, runner, dir); err != nil {
			return h, fmt.Errorf("probe %s: %w", dir, err)
		}
	}
	return h, nil
}
