// SPDX-License-Identifier: MIT
package gitx

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

var environ = os.Environ

// Process is a running git command whose stdout and stderr are merged into
// a single stream.
type Process interface {
	// Output is the combined stream. It reaches EOF once the process exits.
	Output() io.Reader
	// Wait blocks until the process exits and returns its exit code. The
	// error is non-nil only when the exit status could not be determined.
	Wait() (int, error)
}

// Spawner launches long-running git commands with streamed output.
type Spawner interface {
	Spawn(ctx context.Context, dir string, args ...string) (Process, error)
}

// GitSpawner is the default Spawner that shells out to git.
type GitSpawner struct {
	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
}

// Spawn starts git with both output streams attached to one pipe.
func (g *GitSpawner) Spawn(ctx context.Context, dir string, args ...string) (Process, error) {
	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Args: args, Err: err}
	}
	cmd := exec.CommandContext(ctx, gitBin(g.GitBin), args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = gitEnv()
	cmd.Stdout = writer
	cmd.Stderr = writer
	if err := cmd.Start(); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, &SpawnError{Args: args, Err: err}
	}
	// The child holds its own copy; closing ours lets the reader see EOF.
	_ = writer.Close()
	NotifyStarted(ctx)
	return &gitProcess{cmd: cmd, out: reader}, nil
}

type gitProcess struct {
	cmd *exec.Cmd
	out *os.File
}

func (p *gitProcess) Output() io.Reader { return p.out }

func (p *gitProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	_ = p.out.Close()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitCode(err), nil
	}
	return 1, err
}
