package gitx

import (
	"regexp"
	"strconv"
	"strings"
)

// Worktree summarises `git status --porcelain=v1` output.
type Worktree struct {
	// Dirty indicates whether the worktree has any local modifications.
	Dirty bool
	// Staged is the count of staged file changes.
	Staged int
	// Unstaged is the count of unstaged file changes.
	Unstaged int
	// Untracked is the count of untracked files.
	Untracked int
}

// ParsePorcelainStatus parses the output of `git status --porcelain=v1`
// into a Worktree struct.
func ParsePorcelainStatus(output string) *Worktree {
	wt := &Worktree{}
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if len(line) < 2 {
			continue
		}
		x := line[0]
		y := line[1]

		if x == '?' && y == '?' {
			wt.Untracked++
			continue
		}
		if x != ' ' && x != '?' {
			wt.Staged++
		}
		if y != ' ' && y != '?' {
			wt.Unstaged++
		}
	}
	wt.Dirty = wt.Staged > 0 || wt.Unstaged > 0 || wt.Untracked > 0
	return wt
}

// ParseRevListCount parses the output of:
//
//	git rev-list --left-right --count <branch>...@{upstream}
//
// Returns (ahead, behind).
func ParseRevListCount(output string) (int, int) {
	output = strings.TrimSpace(output)
	if output == "" {
		return 0, 0
	}
	parts := strings.Fields(output)
	if len(parts) != 2 {
		return 0, 0
	}
	ahead, _ := strconv.Atoi(parts[0])
	behind, _ := strconv.Atoi(parts[1])
	return ahead, behind
}

// ParseNameList parses `git diff --name-only` output into paths.
func ParseNameList(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}

// StashEntry is one line of `git stash list`.
type StashEntry struct {
	// Ref is the stash selector, for example "stash@{0}".
	Ref string
	// Description is everything after the selector.
	Description string
}

var stashLine = regexp.MustCompile(`^(stash@\{\d+\}):\s(.+)$`)

// ParseStashList parses `git stash list` output.
func ParseStashList(output string) []StashEntry {
	var entries []StashEntry
	for _, line := range strings.Split(output, "\n") {
		m := stashLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		entries = append(entries, StashEntry{Ref: m[1], Description: m[2]})
	}
	return entries
}

// FindStashByName returns the first stash whose message is name. Stash
// descriptions look like "On main: name" or "WIP on main: abc123 subject".
func FindStashByName(entries []StashEntry, name string) (StashEntry, bool) {
	if strings.TrimSpace(name) == "" {
		return StashEntry{}, false
	}
	for _, entry := range entries {
		rest := entry.Description
		for {
			idx := strings.Index(rest, ": ")
			if idx < 0 {
				break
			}
			rest = rest[idx+2:]
			if strings.HasPrefix(rest, name) {
				return entry, true
			}
		}
	}
	return StashEntry{}, false
}
