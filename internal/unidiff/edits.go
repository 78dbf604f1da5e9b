package unidiff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Edits computes the edit script between two line sequences. Equal runs are
// dropped; every replace, delete, or insert opcode becomes one EditRange.
func Edits(oldLines, newLines []string) []EditRange {
	if len(oldLines) == 0 && len(newLines) == 0 {
		return nil
	}
	matcher := difflib.NewMatcherWithJunk(oldLines, newLines, false, nil)
	var edits []EditRange
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		edits = append(edits, EditRange{
			OldStart: op.I1,
			OldEnd:   op.I2,
			NewStart: op.J1,
			NewEnd:   op.J2,
		})
	}
	return edits
}

// Diff computes the edit script and renders it in one step.
func Diff(oldLines, newLines []string, context int) []Hunk {
	return RenderHunks(oldLines, newLines, Edits(oldLines, newLines), context)
}

// NoNewlineMarker follows a body line that ends a file lacking a final
// newline.
const NoNewlineMarker = "\\ No newline at end of file"

// noEOLKey makes a final line without a newline compare unequal to the same
// text with one.
const noEOLKey = "\x00noeol"

// DiffText diffs two texts line by line. A missing final newline counts as
// a change to the last line and is marked in the hunk body the way git
// marks it.
func DiffText(oldText, newText string, context int) []Hunk {
	oldLines, newLines := SplitLines(oldText), SplitLines(newText)
	oldEOL, newEOL := endsWithNewline(oldText), endsWithNewline(newText)
	edits := Edits(compareKeys(oldLines, oldEOL), compareKeys(newLines, newEOL))
	hunks := RenderHunks(oldLines, newLines, edits, context)
	if oldEOL && newEOL {
		return hunks
	}
	for i := range hunks {
		hunks[i].Body = markMissingNewline(hunks[i], len(oldLines), len(newLines), oldEOL, newEOL)
	}
	return hunks
}

func endsWithNewline(text string) bool {
	return text == "" || strings.HasSuffix(text, "\n")
}

func compareKeys(lines []string, eol bool) []string {
	if eol || len(lines) == 0 {
		return lines
	}
	keys := append([]string(nil), lines...)
	keys[len(keys)-1] += noEOLKey
	return keys
}

func markMissingNewline(h Hunk, oldLen, newLen int, oldEOL, newEOL bool) []string {
	body := make([]string, 0, len(h.Body)+2)
	oldAt, newAt := h.OldStart, h.NewStart
	for _, line := range h.Body {
		body = append(body, line)
		endsOld, endsNew := false, false
		switch line[0] {
		case ' ':
			oldAt++
			newAt++
			endsOld, endsNew = oldAt == oldLen, newAt == newLen
		case '-':
			oldAt++
			endsOld = oldAt == oldLen
		case '+':
			newAt++
			endsNew = newAt == newLen
		}
		if (endsOld && !oldEOL) || (endsNew && !newEOL) {
			body = append(body, NoNewlineMarker)
		}
	}
	return body
}

// SplitLines splits text into lines. A trailing newline does not produce a
// final empty line and CRLF endings are normalised.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
