package dashboard_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/repofleet/internal/dashboard"
	"github.com/skaphos/repofleet/internal/engine"
	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/health"
	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/scheduler"
)

// probeRunner answers the health probe queries; dirty paths report an
// untracked file.
type probeRunner struct {
	mu     sync.Mutex
	dirty  map[string]bool
	probes map[string]int
}

func (r *probeRunner) Run(_ context.Context, dir string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch strings.Join(args, " ") {
	case "rev-parse --abbrev-ref HEAD":
		r.probes[dir]++
		return "main", nil
	case "rev-parse --abbrev-ref --symbolic-full-name @{u}":
		return "origin/main", nil
	case "status --porcelain=v1":
		if r.dirty[dir] {
			return "?? scratch.txt", nil
		}
		return "", nil
	case "rev-list --left-right --count HEAD...@{u}":
		return "0\t0", nil
	}
	return "", fmt.Errorf("unexpected %v", args)
}

func (r *probeRunner) setDirty(dir string, dirty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty[dir] = dirty
}

func (r *probeRunner) probeCount(dir string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes[dir]
}

type executorFunc func(ctx context.Context, action model.Action, target string) (engine.Outcome, error)

func (f executorFunc) Apply(ctx context.Context, action model.Action, target string) (engine.Outcome, error) {
	return f(ctx, action, target)
}

type fakeChanges struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeChanges) push(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, paths...)
}

func (f *fakeChanges) Drain() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.paths
	f.paths = nil
	return out
}

func rowPaths(s dashboard.Snapshot) []string {
	var out []string
	for _, r := range s.Rows {
		out = append(out, r.Target.Path)
	}
	return out
}

func settle(loop *dashboard.Loop) {
	Eventually(func() bool {
		loop.Tick()
		return loop.Settled()
	}, 5*time.Second, time.Millisecond).Should(BeTrue())
}

var _ = Describe("Loop", func() {
	var (
		runner  *probeRunner
		changes *fakeChanges
		loop    *dashboard.Loop
	)

	BeforeEach(func() {
		runner = &probeRunner{dirty: map[string]bool{"/b": true}, probes: map[string]int{}}
		changes = &fakeChanges{}
		exec := executorFunc(func(ctx context.Context, action model.Action, target string) (engine.Outcome, error) {
			gitx.NotifyStarted(ctx)
			return engine.Outcome{Lines: []string{"checking " + target, string(action) + " ok", ""}}, nil
		})
		loop = dashboard.New([]model.RepoTarget{
			{Path: "/a", Names: []string{"alpha"}, Repo: true},
			{Path: "/b", Names: []string{"bravo"}, Repo: true},
			{Path: "/notes", Names: []string{"notes"}},
		}, dashboard.Options{
			Scheduler: scheduler.New(scheduler.Options{Executor: exec}),
			Prober:    health.NewProber(runner, 2, nil),
			Watcher:   changes,
			Tick:      time.Millisecond,
		})
		DeferCleanup(loop.Close)
	})

	It("probes every working tree on start and sorts by attention", func() {
		settle(loop)
		snap := loop.Snapshot()
		Expect(rowPaths(snap)).To(Equal([]string{"/b", "/a", "/notes"}))
		Expect(snap.Rows[0].Health.Dirty).To(BeTrue())
		Expect(snap.Rows[0].Probed).To(BeTrue())
		Expect(snap.Rows[2].Probed).To(BeFalse())
		Expect(snap.Rows[0].Selected).To(BeFalse())
		Expect(snap.Rows[1].Selected).To(BeTrue())
		Expect(runner.probeCount("/notes")).To(Equal(0))
	})

	It("runs an action across the working trees and re-probes finished paths", func() {
		settle(loop)
		Expect(loop.Submit(model.ActionStatus)).To(Equal(2))

		var draws int
		err := loop.Run(context.Background(), func(dashboard.Snapshot) { draws++ }, (*dashboard.Loop).Settled)
		Expect(err).NotTo(HaveOccurred())
		Expect(draws).To(BeNumerically(">=", 1))

		snap := loop.Snapshot()
		Expect(snap.Done).To(Equal(2))
		Expect(snap.Total).To(Equal(2))
		Expect(snap.Idle).To(BeTrue())
		for _, row := range snap.Rows {
			if !row.Target.Repo {
				Expect(row.Tracked).To(BeFalse())
				continue
			}
			Expect(row.State.Phase).To(Equal(model.PhaseDone))
			Expect(row.LastLine).To(Equal("status ok"))
			Expect(runner.probeCount(row.Target.Path)).To(Equal(2))
		}
	})

	It("re-probes paths reported by the watcher", func() {
		settle(loop)
		runner.setDirty("/b", false)
		changes.push("/b", "/b")
		settle(loop)

		Expect(runner.probeCount("/b")).To(Equal(2))
		Expect(runner.probeCount("/a")).To(Equal(1))
		Expect(rowPaths(loop.Snapshot())).To(Equal([]string{"/a", "/b", "/notes"}))
	})

	It("submits only the selected working tree", func() {
		settle(loop)
		Expect(loop.Aggregator().Select("/notes")).To(BeTrue())
		Expect(loop.SubmitSelected(model.ActionFetch)).To(Equal(0))

		Expect(loop.Aggregator().Select("/a")).To(BeTrue())
		Expect(loop.SubmitSelected(model.ActionFetch)).To(Equal(1))
		settle(loop)
		state, ok := loop.Scheduler().State("/a")
		Expect(ok).To(BeTrue())
		Expect(state.MessageText()).To(Equal("fetch ok"))
	})

	It("honours the name filter when submitting", func() {
		settle(loop)
		loop.Aggregator().SetFilter("alp")
		Expect(loop.Submit(model.ActionFetch)).To(Equal(1))
		settle(loop)
		Expect(rowPaths(loop.Snapshot())).To(Equal([]string{"/a"}))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := loop.Run(ctx, func(dashboard.Snapshot) {}, nil)
		Expect(err).To(MatchError(context.Canceled))
	})
})
