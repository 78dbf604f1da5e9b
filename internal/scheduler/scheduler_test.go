package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/skaphos/repofleet/internal/engine"
	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/scheduler"
)

type fakeProcess struct {
	out  io.Reader
	code int
}

func (p *fakeProcess) Output() io.Reader  { return p.out }
func (p *fakeProcess) Wait() (int, error) { return p.code, nil }

type step struct {
	output string
	code   int
	err    error
}

// fakeSpawner replays one step per spawned command, keyed by the first
// argument ("fetch" or "pull").
type fakeSpawner struct {
	mu    sync.Mutex
	steps map[string]step
	calls [][]string
}

func (f *fakeSpawner) Spawn(ctx context.Context, _ string, args ...string) (gitx.Process, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	st, ok := f.steps[args[0]]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected spawn %v", args)
	}
	if st.err != nil {
		return nil, st.err
	}
	gitx.NotifyStarted(ctx)
	return &fakeProcess{out: strings.NewReader(st.output), code: st.code}, nil
}

func (f *fakeSpawner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

type executorFunc func(ctx context.Context, action model.Action, target string) (engine.Outcome, error)

func (f executorFunc) Apply(ctx context.Context, action model.Action, target string) (engine.Outcome, error) {
	return f(ctx, action, target)
}

func drainUntilIdle(s *scheduler.Scheduler) []model.SyncEvent {
	var all []model.SyncEvent
	Eventually(func() bool {
		all = append(all, s.Drain()...)
		return s.Idle()
	}, 5*time.Second, time.Millisecond).Should(BeTrue())
	return all
}

func countKind(events []model.SyncEvent, path string, kind model.SyncEventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Path == path && ev.Kind == kind {
			n++
		}
	}
	return n
}

func tasks(action model.Action, paths ...string) []model.SyncTask {
	out := make([]model.SyncTask, 0, len(paths))
	for _, p := range paths {
		out = append(out, model.SyncTask{Path: p, Action: action})
	}
	return out
}

var _ = Describe("Scheduler", func() {
	Describe("concurrency", func() {
		It("never runs more tasks than the limit", func() {
			var active, peak atomic.Int32
			exec := executorFunc(func(ctx context.Context, action model.Action, target string) (engine.Outcome, error) {
				gitx.NotifyStarted(ctx)
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return engine.Outcome{Lines: []string{target + " done"}}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec})

			paths := make([]string, 50)
			for i := range paths {
				paths[i] = fmt.Sprintf("/repos/r%02d", i)
			}
			Expect(s.Submit(tasks(model.ActionFetch, paths...), 5)).To(Equal(50))

			maxRunning := 0
			Eventually(func() bool {
				s.Drain()
				if r := s.Running(); r > maxRunning {
					maxRunning = r
				}
				return s.Idle()
			}, 5*time.Second, time.Millisecond).Should(BeTrue())

			Expect(peak.Load()).To(BeNumerically("<=", 5))
			Expect(maxRunning).To(BeNumerically("<=", 5))
			done, total := s.Progress()
			Expect(done).To(Equal(50))
			Expect(total).To(Equal(50))
			for _, p := range paths {
				state, ok := s.State(p)
				Expect(ok).To(BeTrue())
				Expect(state.Phase).To(Equal(model.PhaseDone))
				Expect(state.ExitCode).To(Equal(0))
				Expect(state.MessageText()).To(Equal(p + " done"))
			}
		})

		It("uses the default limit for non-positive limits", func() {
			var active, peak atomic.Int32
			exec := executorFunc(func(ctx context.Context, _ model.Action, _ string) (engine.Outcome, error) {
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return engine.Outcome{}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec, DefaultLimit: 2})
			paths := make([]string, 10)
			for i := range paths {
				paths[i] = fmt.Sprintf("/repos/d%d", i)
			}
			s.Submit(tasks(model.ActionStatus, paths...), 0)
			drainUntilIdle(s)
			Expect(peak.Load()).To(BeNumerically("<=", 2))
		})
	})

	Describe("duplicate submission", func() {
		It("starts a path only once while it is in flight", func() {
			release := make(chan struct{})
			var calls atomic.Int32
			exec := executorFunc(func(ctx context.Context, _ model.Action, _ string) (engine.Outcome, error) {
				calls.Add(1)
				gitx.NotifyStarted(ctx)
				<-release
				return engine.Outcome{}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec})

			Expect(s.Submit(tasks(model.ActionStatus, "/r"), 5)).To(Equal(1))
			Expect(s.Submit(tasks(model.ActionStatus, "/r"), 5)).To(Equal(0))
			Expect(s.Submit(tasks(model.ActionFetch, "/r", "/r"), 5)).To(Equal(0))
			close(release)

			events := drainUntilIdle(s)
			Expect(calls.Load()).To(Equal(int32(1)))
			Expect(countKind(events, "/r", model.EventStarted)).To(Equal(1))
			Expect(countKind(events, "/r", model.EventFinished)).To(Equal(1))

			Expect(s.Submit(tasks(model.ActionStatus, "/r"), 5)).To(Equal(1))
			drainUntilIdle(s)
			Expect(calls.Load()).To(Equal(int32(2)))
		})

		It("ignores tasks without a path", func() {
			s := scheduler.New(scheduler.Options{Executor: executorFunc(func(context.Context, model.Action, string) (engine.Outcome, error) {
				return engine.Outcome{}, nil
			})})
			Expect(s.Submit([]model.SyncTask{{Action: model.ActionFetch}}, 5)).To(Equal(0))
			Expect(s.Idle()).To(BeTrue())
		})
	})

	Describe("update streaming", func() {
		It("streams fetch then pull and reports the last line", func() {
			spawner := &fakeSpawner{steps: map[string]step{
				"fetch": {output: "remote: Counting objects: 50%\rremote: Counting objects: 100%\n"},
				"pull":  {output: "Updating 1111111..2222222\nFast-forward\n"},
			}}
			s := scheduler.New(scheduler.Options{Spawner: spawner, PullRebase: true})
			s.Submit(tasks(model.ActionUpdate, "/r"), 5)
			events := drainUntilIdle(s)

			Expect(events[0]).To(Equal(model.Started("/r")))
			Expect(countKind(events, "/r", model.EventStarted)).To(Equal(1))
			Expect(spawner.Calls()).To(Equal([][]string{{"fetch", "--prune"}, {"pull", "--rebase"}}))
			Expect(s.Log("/r")).To(Equal([]string{
				"remote: Counting objects: 50%",
				"remote: Counting objects: 100%",
				"Updating 1111111..2222222",
				"Fast-forward",
			}))
			state, _ := s.State("/r")
			Expect(state.ExitCode).To(Equal(0))
			Expect(state.MessageText()).To(Equal("Fast-forward"))
		})

		It("prefers the first error line over the last line", func() {
			spawner := &fakeSpawner{steps: map[string]step{
				"fetch": {output: ""},
				"pull":  {output: "  Error: cannot pull with rebase\nhint: commit first\n", code: 128},
			}}
			s := scheduler.New(scheduler.Options{Spawner: spawner})
			s.Submit(tasks(model.ActionUpdate, "/r"), 5)
			drainUntilIdle(s)

			state, _ := s.State("/r")
			Expect(state.Failed()).To(BeTrue())
			Expect(state.ExitCode).To(Equal(128))
			Expect(state.MessageText()).To(Equal("Error: cannot pull with rebase"))
		})

		It("stops after a failing fetch", func() {
			spawner := &fakeSpawner{steps: map[string]step{
				"fetch": {code: 128},
			}}
			s := scheduler.New(scheduler.Options{Spawner: spawner})
			s.Submit(tasks(model.ActionUpdate, "/r"), 5)
			drainUntilIdle(s)

			Expect(spawner.Calls()).To(HaveLen(1))
			state, _ := s.State("/r")
			Expect(state.ExitCode).To(Equal(128))
			Expect(state.MessageText()).To(Equal("exited with code 128"))
		})

		It("reports no message for a silent success", func() {
			spawner := &fakeSpawner{steps: map[string]step{"fetch": {}, "pull": {}}}
			s := scheduler.New(scheduler.Options{Spawner: spawner})
			s.Submit(tasks(model.ActionUpdate, "/r"), 5)
			drainUntilIdle(s)

			state, _ := s.State("/r")
			Expect(state.Phase).To(Equal(model.PhaseDone))
			Expect(state.Message).To(BeNil())
		})

		It("forwards blank lines without letting them become the message", func() {
			spawner := &fakeSpawner{steps: map[string]step{
				"fetch": {output: "From origin\n\n"},
				"pull":  {output: "Already up to date.\n   \n"},
			}}
			s := scheduler.New(scheduler.Options{Spawner: spawner})
			s.Submit(tasks(model.ActionUpdate, "/r"), 5)
			events := drainUntilIdle(s)

			Expect(countKind(events, "/r", model.EventLine)).To(Equal(4))
			Expect(s.Log("/r")).To(Equal([]string{"From origin", "", "Already up to date.", "   "}))
			state, _ := s.State("/r")
			Expect(state.MessageText()).To(Equal("Already up to date."))
		})

		It("caps the captured log", func() {
			var out strings.Builder
			for i := 0; i < 10; i++ {
				fmt.Fprintf(&out, "line %d\n", i)
			}
			spawner := &fakeSpawner{steps: map[string]step{"fetch": {output: out.String()}, "pull": {}}}
			s := scheduler.New(scheduler.Options{Spawner: spawner, LogLines: 3})
			s.Submit(tasks(model.ActionUpdate, "/r"), 5)
			drainUntilIdle(s)

			Expect(s.Log("/r")).To(Equal([]string{"line 7", "line 8", "line 9"}))
		})
	})

	Describe("spawn failure", func() {
		It("finishes an update without a Started event and logs a warning", func() {
			core, logs := observer.New(zapcore.WarnLevel)
			spawner := &fakeSpawner{steps: map[string]step{
				"fetch": {err: &gitx.SpawnError{Args: []string{"fetch", "--prune"}, Err: errors.New("executable file not found")}},
			}}
			s := scheduler.New(scheduler.Options{Spawner: spawner, Logger: zap.New(core)})
			s.Submit(tasks(model.ActionUpdate, "/r"), 5)
			events := drainUntilIdle(s)

			Expect(events).To(HaveLen(1))
			Expect(events[0].Kind).To(Equal(model.EventFinished))
			Expect(events[0].ExitCode).To(Equal(1))
			Expect(*events[0].Message).To(ContainSubstring("executable file not found"))
			Expect(logs.FilterMessage("spawn failed").Len()).To(Equal(1))
		})

		It("finishes a delegated action without a Started event when git never launched", func() {
			exec := executorFunc(func(context.Context, model.Action, string) (engine.Outcome, error) {
				return engine.Outcome{}, &engine.ActionError{Kind: engine.KindSpawnFailed, Path: "/r", Detail: "spawn git stash list: not found"}
			})
			s := scheduler.New(scheduler.Options{Executor: exec})
			s.Submit(tasks(model.ActionStatus, "/r"), 5)
			events := drainUntilIdle(s)

			Expect(countKind(events, "/r", model.EventStarted)).To(Equal(0))
			state, _ := s.State("/r")
			Expect(state.ExitCode).To(Equal(1))
			Expect(state.MessageText()).To(Equal("spawn git stash list: not found"))
		})
	})

	Describe("delegated actions", func() {
		It("streams outcome lines and maps action errors", func() {
			exec := executorFunc(func(ctx context.Context, _ model.Action, _ string) (engine.Outcome, error) {
				gitx.NotifyStarted(ctx)
				gitx.NotifyStarted(ctx)
				return engine.Outcome{Lines: []string{"error: could not apply abc"}},
					&engine.ActionError{Kind: engine.KindSubprocessFailed, Path: "/r", Detail: "error: could not apply abc", Code: 2}
			})
			s := scheduler.New(scheduler.Options{Executor: exec})
			s.Submit(tasks(model.ActionMerge, "/r"), 5)
			events := drainUntilIdle(s)

			Expect(events).To(HaveLen(3))
			Expect(events[0]).To(Equal(model.Started("/r")))
			Expect(events[1]).To(Equal(model.Line("/r", "error: could not apply abc")))
			Expect(events[2].ExitCode).To(Equal(2))
			Expect(*events[2].Message).To(Equal("error: could not apply abc"))
		})

		It("reports Started for a success even without a launch notice", func() {
			exec := executorFunc(func(context.Context, model.Action, string) (engine.Outcome, error) {
				return engine.Outcome{Lines: []string{"main is the same as origin/main"}}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec})
			s.Submit(tasks(model.ActionStatus, "/r"), 5)
			events := drainUntilIdle(s)

			Expect(events[0].Kind).To(Equal(model.EventStarted))
			state, _ := s.State("/r")
			Expect(state.MessageText()).To(Equal("main is the same as origin/main"))
		})
	})

	Describe("delegated messages", func() {
		It("prefers an error line even when the action succeeded", func() {
			exec := executorFunc(func(ctx context.Context, _ model.Action, _ string) (engine.Outcome, error) {
				gitx.NotifyStarted(ctx)
				return engine.Outcome{Lines: []string{"", "error: cannot lock ref 'refs/remotes/origin/x'", "fetched"}}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec})
			s.Submit(tasks(model.ActionFetch, "/r"), 5)
			events := drainUntilIdle(s)

			Expect(countKind(events, "/r", model.EventLine)).To(Equal(3))
			state, _ := s.State("/r")
			Expect(state.ExitCode).To(Equal(0))
			Expect(state.MessageText()).To(Equal("error: cannot lock ref 'refs/remotes/origin/x'"))
		})

		It("reports no message for a silent success", func() {
			exec := executorFunc(func(context.Context, model.Action, string) (engine.Outcome, error) {
				return engine.Outcome{Lines: []string{"  "}}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec})
			s.Submit(tasks(model.ActionStatus, "/r"), 5)
			drainUntilIdle(s)

			state, _ := s.State("/r")
			Expect(state.Message).To(BeNil())
		})
	})

	Describe("progress", func() {
		It("resets the counters for a new batch", func() {
			exec := executorFunc(func(context.Context, model.Action, string) (engine.Outcome, error) {
				return engine.Outcome{}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec})
			s.Submit(tasks(model.ActionFetch, "/a", "/b"), 5)
			drainUntilIdle(s)
			done, total := s.Progress()
			Expect([]int{done, total}).To(Equal([]int{2, 2}))

			s.Submit(tasks(model.ActionFetch, "/c"), 5)
			drainUntilIdle(s)
			done, total = s.Progress()
			Expect([]int{done, total}).To(Equal([]int{1, 1}))
			Expect(s.Paths()).To(Equal([]string{"/a", "/b", "/c"}))
		})
	})

	Describe("Close", func() {
		It("lets running workers finish without delivering events", func() {
			release := make(chan struct{})
			exec := executorFunc(func(ctx context.Context, _ model.Action, _ string) (engine.Outcome, error) {
				<-release
				gitx.NotifyStarted(ctx)
				return engine.Outcome{Lines: []string{"late"}}, nil
			})
			s := scheduler.New(scheduler.Options{Executor: exec})
			s.Submit(tasks(model.ActionFetch, "/a", "/b"), 1)
			s.Close()
			close(release)

			Expect(func() { s.Wait() }).NotTo(Panic())
			Expect(s.Drain()).To(BeEmpty())
		})
	})
})
