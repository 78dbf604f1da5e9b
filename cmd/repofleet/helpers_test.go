package repofleet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/registry"
)

const testHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// fleetRunner answers git queries for directories named alpha and bravo.
// bravo has no upstream; any other directory is not a repository.
type fleetRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *fleetRunner) Run(_ context.Context, dir string, args ...string) (string, error) {
	name := filepath.Base(dir)
	joined := strings.Join(args, " ")
	r.mu.Lock()
	r.calls = append(r.calls, name+":"+joined)
	r.mu.Unlock()

	if name != "alpha" && name != "bravo" {
		return "", errors.New("fatal: not a git repository (or any of the parent directories): .git")
	}
	switch joined {
	case "rev-parse --is-inside-work-tree":
		return "true", nil
	case "rev-parse --is-bare-repository":
		return "false", nil
	case "stash list", "status -s", "status --porcelain=v1":
		return "", nil
	case "rev-parse --abbrev-ref HEAD":
		return "main", nil
	case "rev-parse --abbrev-ref --symbolic-full-name @{u}":
		if name == "bravo" {
			return "", errors.New("fatal: no upstream configured for branch 'main'")
		}
		return "origin/main", nil
	case "rev-parse main", "rev-parse origin/main":
		return testHash, nil
	case "rev-list --left-right --count HEAD...@{u}":
		return "0\t0", nil
	}
	return "", fmt.Errorf("unexpected git %s", joined)
}

// fleetSpawner streams update output; bravo cannot reach its remote.
type fleetSpawner struct{}

func (fleetSpawner) Spawn(_ context.Context, dir string, args ...string) (gitx.Process, error) {
	switch {
	case filepath.Base(dir) == "bravo" && args[0] == "fetch":
		return &fakeProcess{out: "fatal: unable to access 'https://example.invalid/bravo.git/': Could not resolve host: example.invalid\n", code: 128}, nil
	case args[0] == "pull":
		return &fakeProcess{out: "Already up to date.\n"}, nil
	default:
		return &fakeProcess{out: "From https://example.invalid/alpha\n"}, nil
	}
}

type fakeProcess struct {
	out  string
	code int
}

func (p *fakeProcess) Output() io.Reader { return strings.NewReader(p.out) }

func (p *fakeProcess) Wait() (int, error) { return p.code, nil }

type cliEnv struct {
	dir     string
	cfgPath string
	regPath string
	runner  *fleetRunner
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("defaults:\n  tick_millis: 5\nlog:\n  level: error\n"), 0o644))

	runner := &fleetRunner{}
	prevRunner, prevSpawner := newRunner, newSpawner
	newRunner = func() gitx.Runner { return runner }
	newSpawner = func() gitx.Spawner { return fleetSpawner{} }
	t.Cleanup(func() {
		newRunner, newSpawner = prevRunner, prevSpawner
	})
	return &cliEnv{dir: dir, cfgPath: cfgPath, regPath: filepath.Join(dir, "registry.yaml"), runner: runner}
}

// mkdir creates a directory under the environment root and returns its path.
func (e *cliEnv) mkdir(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	return path
}

func (e *cliEnv) seed(t *testing.T, targets ...model.RepoTarget) {
	t.Helper()
	reg := &registry.Registry{}
	for _, target := range targets {
		reg.Add(target)
	}
	require.NoError(t, registry.Save(reg, e.regPath))
}

func (e *cliEnv) registry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.LoadOrEmpty(e.regPath)
	require.NoError(t, err)
	return reg
}

type cliResult struct {
	stdout string
	stderr string
	code   int
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	resetCommandFlags(rootCmd)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	code := ExecuteWithExitCode()
	return cliResult{stdout: out.String(), stderr: errOut.String(), code: code}
}

// resetCommandFlags restores every flag to its default so runs do not leak
// into each other.
func resetCommandFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetCommandFlags(child)
	}
}
