// Package gitx provides helpers for executing git commands and parsing
// their output. It shells out to the installed git binary.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Runner executes git commands in a given repo directory.
// This interface allows mocking in tests.
type Runner interface {
	// Run executes a git command in the given directory and returns
	// combined stdout/stderr output.
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// GitRunner is the default Runner implementation that shells out to git.
type GitRunner struct {
	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
}

// Run executes a git command. A start notifier attached to ctx fires once
// the process has been launched.
func (g *GitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, gitBin(g.GitBin), args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = gitEnv()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return "", &SpawnError{Args: args, Err: err}
	}
	NotifyStarted(ctx)
	err := cmd.Wait()
	return strings.TrimSpace(out.String()), err
}

// SpawnError reports that the git process could not be launched at all.
type SpawnError struct {
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	return "spawn git " + strings.Join(e.Args, " ") + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err came from a failed process launch.
func IsSpawnError(err error) bool {
	var spawnErr *SpawnError
	return errors.As(err, &spawnErr)
}

// ExitCode extracts the process exit status from err. Nil maps to 0 and
// errors that carry no exit status map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

type startNotifierKey struct{}

// WithStartNotifier returns a context whose runner and spawner calls invoke
// fn after each successful process launch.
func WithStartNotifier(ctx context.Context, fn func()) context.Context {
	return context.WithValue(ctx, startNotifierKey{}, fn)
}

// NotifyStarted invokes the notifier attached to ctx, if any.
func NotifyStarted(ctx context.Context) {
	if fn, ok := ctx.Value(startNotifierKey{}).(func()); ok && fn != nil {
		fn()
	}
}

func gitBin(bin string) string {
	if bin == "" {
		return "git"
	}
	return bin
}

func gitEnv() []string {
	// No terminal is attached to answer credential prompts.
	return append(environ(), "GIT_TERMINAL_PROMPT=0")
}
