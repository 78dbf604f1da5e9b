// Package model defines the core data types shared by the repofleet engine,
// scheduler, and health aggregator.
package model

import (
	"fmt"
	"strings"
)

// RepoTarget describes a registered working copy. It is owned by the
// registry and treated as read-only everywhere else.
type RepoTarget struct {
	// Path is the absolute directory of the working copy and its identity.
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// Names are operator-chosen display names used for lookup.
	Names []string `json:"names,omitempty" yaml:"names,omitempty" mapstructure:"names"`
	// Repo reports whether the directory is a git working tree. Plain
	// bookmarked directories are registered with Repo=false.
	Repo bool `json:"repo" yaml:"repo" mapstructure:"repo"`
	// Groups are free-form tags carried for the registry; the core ignores them.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty" mapstructure:"groups"`
}

// DisplayName returns the first registered name, falling back to the path.
func (t RepoTarget) DisplayName() string {
	for _, name := range t.Names {
		if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return t.Path
}

// HasName reports whether name matches one of the target names, ignoring case.
func (t RepoTarget) HasName(name string) bool {
	for _, candidate := range t.Names {
		if strings.EqualFold(candidate, name) {
			return true
		}
	}
	return false
}

// Action is the git operation requested for a repository.
type Action string

const (
	ActionFetch  Action = "fetch"
	ActionMerge  Action = "merge"
	ActionStatus Action = "status"
	// ActionUpdate streams a fetch followed by a pull.
	ActionUpdate Action = "update"
)

// ParseAction maps a CLI verb (including the short aliases) to an Action.
func ParseAction(value string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fetch":
		return ActionFetch, nil
	case "merge":
		return ActionMerge, nil
	case "status", "st":
		return ActionStatus, nil
	case "update", "pull":
		return ActionUpdate, nil
	default:
		return "", fmt.Errorf("unknown action %q", value)
	}
}

// ReadOnly reports whether the action never changes refs or the working tree.
func (a Action) ReadOnly() bool {
	return a == ActionStatus
}

// SyncTask is one unit of scheduled work. Each task is consumed by exactly
// one worker.
type SyncTask struct {
	Path   string `json:"path" yaml:"path"`
	Action Action `json:"action" yaml:"action"`
}

// SyncPhase enumerates the lifecycle of a scheduled task.
type SyncPhase string

const (
	PhasePending SyncPhase = "pending"
	PhaseRunning SyncPhase = "running"
	PhaseDone    SyncPhase = "done"
)

// SyncState is the per-path scheduler state. ExitCode and Message are only
// meaningful once Phase is PhaseDone.
type SyncState struct {
	// Phase is the lifecycle stage of the most recent task for the path.
	Phase SyncPhase `json:"phase" yaml:"phase"`
	// ExitCode is the final exit status of the worker.
	ExitCode int `json:"exit_code" yaml:"exit_code"`
	// Message is the line chosen to explain the outcome. Nil when the task
	// succeeded without producing output.
	Message *string `json:"message,omitempty" yaml:"message,omitempty"`
}

// InFlight reports whether a task for the path is pending or running.
func (s SyncState) InFlight() bool {
	return s.Phase == PhasePending || s.Phase == PhaseRunning
}

// Failed reports whether the task finished with a non-zero exit code.
func (s SyncState) Failed() bool {
	return s.Phase == PhaseDone && s.ExitCode != 0
}

// MessageText returns the outcome message or an empty string.
func (s SyncState) MessageText() string {
	if s.Message == nil {
		return ""
	}
	return *s.Message
}

// SyncEventKind tags a SyncEvent.
type SyncEventKind string

const (
	EventStarted  SyncEventKind = "started"
	EventLine     SyncEventKind = "line"
	EventFinished SyncEventKind = "finished"
)

// SyncEvent is produced by scheduler workers. Events for one path arrive in
// the order they were produced; ordering across paths is unspecified.
type SyncEvent struct {
	Kind SyncEventKind `json:"kind" yaml:"kind"`
	Path string        `json:"path" yaml:"path"`
	// Text is set for EventLine.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
	// ExitCode and Message are set for EventFinished.
	ExitCode int     `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Message  *string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Started builds an EventStarted event.
func Started(path string) SyncEvent {
	return SyncEvent{Kind: EventStarted, Path: path}
}

// Line builds an EventLine event.
func Line(path, text string) SyncEvent {
	return SyncEvent{Kind: EventLine, Path: path, Text: text}
}

// Finished builds an EventFinished event.
func Finished(path string, exitCode int, message *string) SyncEvent {
	return SyncEvent{Kind: EventFinished, Path: path, ExitCode: exitCode, Message: message}
}

// RepoHealth is the last observed branch and working tree summary for a path.
type RepoHealth struct {
	// Branch is the checked-out branch ("HEAD" when detached).
	Branch string `json:"branch" yaml:"branch"`
	// Upstream is the tracking ref, empty when none is configured.
	Upstream string `json:"upstream" yaml:"upstream"`
	// Dirty indicates uncommitted changes, including untracked files.
	Dirty bool `json:"dirty" yaml:"dirty"`
	// Ahead is the count of local commits missing from the upstream.
	Ahead int `json:"ahead" yaml:"ahead"`
	// Behind is the count of upstream commits missing locally.
	Behind int `json:"behind" yaml:"behind"`
}

// NeedsAttention reports whether the working copy has local changes or has
// drifted from its upstream.
func (h RepoHealth) NeedsAttention() bool {
	return h.Dirty || h.Ahead > 0 || h.Behind > 0
}
