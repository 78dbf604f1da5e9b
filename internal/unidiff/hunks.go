// Package unidiff renders line-level edit scripts as unified-diff hunks.
// The renderer is pure: it performs no I/O and never shells out to a
// diff tool.
package unidiff

import (
	"fmt"
	"strings"
)

// EditRange is a maximal contiguous difference between two line sequences.
// Both ranges are half-open: old lines [OldStart, OldEnd) were replaced by
// new lines [NewStart, NewEnd).
type EditRange struct {
	OldStart int
	OldEnd   int
	NewStart int
	NewEnd   int
}

// Hunk is one "@@ ... @@" block of a unified diff. OldStart and NewStart
// are 0-based line offsets into the compared sequences.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	// Body holds the prefixed lines (" ", "-", "+") in output order, plus
	// NoNewlineMarker after a line that ends a file without a newline.
	Body []string
}

// Header renders the hunk range line. Positions are 1-based unless the
// corresponding count is zero, in which case the 0-based insertion or
// deletion point is reported.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", position(h.OldStart, h.OldCount), h.OldCount, position(h.NewStart, h.NewCount), h.NewCount)
}

// Lines returns the header followed by the body.
func (h Hunk) Lines() []string {
	out := make([]string, 0, len(h.Body)+1)
	out = append(out, h.Header())
	return append(out, h.Body...)
}

// String renders the hunk as newline-terminated text.
func (h Hunk) String() string {
	var b strings.Builder
	for _, line := range h.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func position(start, count int) int {
	if count == 0 {
		return start
	}
	return start + 1
}

type window struct {
	oldLo, oldHi int
	newLo, newHi int
	edits        []EditRange
}

// RenderHunks groups edits into hunks with up to context lines of shared
// text around each edit. Edits must be sorted by OldStart and must not
// overlap. Edits whose context windows touch or overlap are merged into a
// single hunk. No edits yield no hunks.
func RenderHunks(oldLines, newLines []string, edits []EditRange, context int) []Hunk {
	if len(edits) == 0 {
		return nil
	}
	if context < 0 {
		context = 0
	}

	var windows []*window
	for _, edit := range edits {
		oldLo := clamp(edit.OldStart-context, 0, len(oldLines))
		oldHi := clamp(edit.OldEnd+context, 0, len(oldLines))
		newLo := clamp(edit.NewStart-context, 0, len(newLines))
		newHi := clamp(edit.NewEnd+context, 0, len(newLines))

		if n := len(windows); n > 0 {
			cur := windows[n-1]
			if oldLo <= cur.oldHi || newLo <= cur.newHi {
				cur.oldHi = max(cur.oldHi, oldHi)
				cur.newHi = max(cur.newHi, newHi)
				cur.edits = append(cur.edits, edit)
				continue
			}
		}
		windows = append(windows, &window{
			oldLo: oldLo, oldHi: oldHi,
			newLo: newLo, newHi: newHi,
			edits: []EditRange{edit},
		})
	}

	hunks := make([]Hunk, 0, len(windows))
	for _, w := range windows {
		hunks = append(hunks, renderWindow(oldLines, newLines, w))
	}
	return hunks
}

func renderWindow(oldLines, newLines []string, w *window) Hunk {
	first := w.edits[0]
	lead := min(first.OldStart-w.oldLo, first.NewStart-w.newLo)
	lead = max(lead, 0)

	h := Hunk{
		OldStart: first.OldStart - lead,
		NewStart: first.NewStart - lead,
	}
	h.Body = appendContext(h.Body, oldLines, first.OldStart-lead, first.OldStart)
	h.OldCount += lead
	h.NewCount += lead

	for i, edit := range w.edits {
		if i > 0 {
			prev := w.edits[i-1]
			gap := min(edit.OldStart-prev.OldEnd, edit.NewStart-prev.NewEnd)
			gap = max(gap, 0)
			h.Body = appendContext(h.Body, oldLines, prev.OldEnd, prev.OldEnd+gap)
			h.OldCount += gap
			h.NewCount += gap
		}
		for _, line := range slice(oldLines, edit.OldStart, edit.OldEnd) {
			h.Body = append(h.Body, "-"+line)
			h.OldCount++
		}
		for _, line := range slice(newLines, edit.NewStart, edit.NewEnd) {
			h.Body = append(h.Body, "+"+line)
			h.NewCount++
		}
	}

	last := w.edits[len(w.edits)-1]
	trail := min(w.oldHi-last.OldEnd, w.newHi-last.NewEnd)
	trail = max(trail, 0)
	h.Body = appendContext(h.Body, oldLines, last.OldEnd, last.OldEnd+trail)
	h.OldCount += trail
	h.NewCount += trail
	return h
}

func appendContext(body, lines []string, from, to int) []string {
	for _, line := range slice(lines, from, to) {
		body = append(body, " "+line)
	}
	return body
}

func slice(lines []string, from, to int) []string {
	from = clamp(from, 0, len(lines))
	to = clamp(to, from, len(lines))
	return lines[from:to]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
