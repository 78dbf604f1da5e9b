// SPDX-License-Identifier: MIT
package engine

import (
	"fmt"

	"github.com/skaphos/repofleet/internal/gitx"
)

// ErrorKind enumerates the ways an action can fail for one repository.
type ErrorKind string

const (
	// KindNotFound means the target path is missing or the name is unregistered.
	KindNotFound ErrorKind = "not_found"
	// KindNoTrackingBranch means the current branch has no upstream.
	KindNoTrackingBranch ErrorKind = "no_tracking_branch"
	// KindStashPending means a sentinel stash from an interrupted run exists.
	KindStashPending ErrorKind = "stash_pending"
	// KindSubprocessFailed means git exited with a non-zero status.
	KindSubprocessFailed ErrorKind = "subprocess_failed"
	// KindSpawnFailed means git could not be launched.
	KindSpawnFailed ErrorKind = "spawn_failed"
)

// ActionError is the closed set of per-repository failures. Errors are
// always scoped to one repository and never abort a batch.
type ActionError struct {
	Kind ErrorKind
	// Path is the resolved directory, or the raw target when unresolved.
	Path string
	// Detail is the line that explains the failure.
	Detail string
	// Code is the git exit status for KindSubprocessFailed.
	Code int
	Err  error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound         = &ActionError{Kind: KindNotFound}
	ErrNoTrackingBranch = &ActionError{Kind: KindNoTrackingBranch}
	ErrStashPending     = &ActionError{Kind: KindStashPending}
	ErrSubprocessFailed = &ActionError{Kind: KindSubprocessFailed}
	ErrSpawnFailed      = &ActionError{Kind: KindSpawnFailed}
)

func (e *ActionError) Error() string {
	var msg string
	switch e.Kind {
	case KindNotFound:
		msg = "not found"
	case KindNoTrackingBranch:
		msg = "no tracking branch"
	case KindStashPending:
		msg = "sentinel stash pending"
	case KindSubprocessFailed:
		msg = "git failed"
	case KindSpawnFailed:
		msg = "cannot launch git"
	default:
		msg = string(e.Kind)
	}
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any ActionError of the same kind, so callers can write
// errors.Is(err, engine.ErrStashPending).
func (e *ActionError) Is(target error) bool {
	t, ok := target.(*ActionError)
	return ok && t.Kind == e.Kind
}

func (e *ActionError) Unwrap() error { return e.Err }

// ExitCode maps the failure to a process-style exit status.
func (e *ActionError) ExitCode() int {
	if e.Kind == KindSubprocessFailed && e.Code > 0 {
		return e.Code
	}
	return 1
}

// Message returns the explanatory line, falling back to the full error.
func (e *ActionError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error()
}

// Skipped reports whether the repository was left untouched on purpose
// rather than failing.
func (e *ActionError) Skipped() bool {
	return e.Kind == KindNoTrackingBranch || e.Kind == KindStashPending
}

func notFound(target, detail string) *ActionError {
	return &ActionError{Kind: KindNotFound, Path: target, Detail: detail}
}

// gitFailure classifies a git error as a spawn or subprocess failure.
func gitFailure(dir string, err error) *ActionError {
	if gitx.IsSpawnError(err) {
		return &ActionError{Kind: KindSpawnFailed, Path: dir, Detail: err.Error(), Err: err}
	}
	return &ActionError{Kind: KindSubprocessFailed, Path: dir, Detail: err.Error(), Code: gitx.ExitCode(err), Err: err}
}

func subprocessFailed(dir, output string, err error) *ActionError {
	if gitx.IsSpawnError(err) {
		return gitFailure(dir, err)
	}
	code := gitx.ExitCode(err)
	detail := err.Error()
	if msg := gitx.Summarize(output, code); msg != nil {
		detail = *msg
	}
	return &ActionError{Kind: KindSubprocessFailed, Path: dir, Detail: detail, Code: code, Err: err}
}

func stashPending(dir string, entry gitx.StashEntry) *ActionError {
	return &ActionError{
		Kind:   KindStashPending,
		Path:   dir,
		Detail: fmt.Sprintf("%s (%s) must be resolved first", entry.Ref, entry.Description),
	}
}
