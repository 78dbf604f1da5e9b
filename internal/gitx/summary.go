package gitx

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

const maxLineBytes = 1024 * 1024

// OutputSummary picks the line that best explains a command's outcome:
// the first line that starts with "error" (any case), else the last
// non-empty line.
type OutputSummary struct {
	errorLine string
	lastLine  string
}

// Observe records one output line.
func (s *OutputSummary) Observe(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	s.lastLine = trimmed
	if s.errorLine == "" && len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "error") {
		s.errorLine = trimmed
	}
}

// Message returns the explanatory line for a finished command. It is nil
// when the command succeeded without output. A failed command with no
// output reports its exit code.
func (s *OutputSummary) Message(exitCode int) *string {
	switch {
	case s.errorLine != "":
		msg := s.errorLine
		return &msg
	case s.lastLine != "":
		msg := s.lastLine
		return &msg
	case exitCode != 0:
		msg := fmt.Sprintf("exited with code %d", exitCode)
		return &msg
	default:
		return nil
	}
}

// Summarize runs every line of output through an OutputSummary.
func Summarize(output string, exitCode int) *string {
	var s OutputSummary
	for _, line := range SplitOutputLines(output) {
		s.Observe(line)
	}
	return s.Message(exitCode)
}

// SplitOutputLines splits command output on newlines and carriage returns,
// dropping empty lines.
func SplitOutputLines(output string) []string {
	var lines []string
	scanner := NewLineScanner(strings.NewReader(output))
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// NewLineScanner returns a scanner that treats '\n', '\r', and "\r\n" as
// line terminators, so progress meters that redraw with '\r' yield one
// line per update.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanLinesCR)
	return scanner
}

func scanLinesCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					advance++
				}
			} else if !atEOF {
				return 0, nil, nil
			}
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
