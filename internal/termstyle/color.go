// SPDX-License-Identifier: MIT
package termstyle

import (
	"github.com/liggitt/tabwriter"

	"github.com/skaphos/repofleet/internal/model"
)

const (
	Reset = "\x1b[0m"
	Green = "\x1b[32m"
	Brown = "\x1b[33m"
	Red   = "\x1b[31m"
	Blue  = "\x1b[34m"

	// Semantic aliases used by table and dashboard output.
	Healthy = Green
	Warn    = Brown
	Error   = Red
	Info    = Blue
)

// Colorize wraps a value in ANSI escapes when color output is enabled.
func Colorize(enabled bool, value, color string) string {
	if !enabled || value == "" || color == "" {
		return value
	}
	// Hide ANSI sequences from tabwriter width calculations so columns align.
	esc := string([]byte{tabwriter.Escape})
	return esc + color + esc + value + esc + Reset + esc
}

// StateColor picks the color for a scheduler state: blue while in flight,
// green on success, red on failure.
func StateColor(state model.SyncState) string {
	switch {
	case state.InFlight():
		return Info
	case state.Failed():
		return Error
	case state.Phase == model.PhaseDone:
		return Healthy
	default:
		return ""
	}
}

// HealthColor is brown for working copies needing attention and green
// otherwise.
func HealthColor(h model.RepoHealth) string {
	if h.NeedsAttention() {
		return Warn
	}
	return Healthy
}
