// Package history reads commit history and per-commit diffs directly from
// the repository object store. It never modifies the repository.
package history

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/skaphos/repofleet/internal/unidiff"
)

// DefaultLimit is the number of commits listed when no limit is given.
const DefaultLimit = 100

// Commit is a one-line summary of a commit.
type Commit struct {
	Hash    string
	Short   string
	Author  string
	Email   string
	When    time.Time
	Subject string
}

// FileDiff is the change to one file in a commit.
type FileDiff struct {
	OldPath string
	NewPath string
	Binary  bool
	Hunks   []unidiff.Hunk
}

// OldLabel is the "---" label, /dev/null for an added file.
func (f FileDiff) OldLabel() string {
	if f.OldPath == "" {
		return unidiff.DevNull
	}
	return "a/" + f.OldPath
}

// NewLabel is the "+++" label, /dev/null for a deleted file.
func (f FileDiff) NewLabel() string {
	if f.NewPath == "" {
		return unidiff.DevNull
	}
	return "b/" + f.NewPath
}

// Path is the path the file has after the commit, or before it if deleted.
func (f FileDiff) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// Lines renders the file diff in unified format.
func (f FileDiff) Lines() []string {
	lines := []string{fmt.Sprintf("diff --git a/%s b/%s", orPath(f.OldPath, f.NewPath), orPath(f.NewPath, f.OldPath))}
	if f.Binary {
		return append(lines, fmt.Sprintf("Binary files %s and %s differ", f.OldLabel(), f.NewLabel()))
	}
	if len(f.Hunks) == 0 {
		return lines
	}
	lines = append(lines, unidiff.FileHeader(f.OldLabel(), f.NewLabel())...)
	for _, h := range f.Hunks {
		lines = append(lines, h.Lines()...)
	}
	return lines
}

func orPath(p, fallback string) string {
	if p == "" {
		return fallback
	}
	return p
}

// Repo is an open repository.
type Repo struct {
	repo *git.Repository
	path string
}

// Open opens the repository containing path, searching parent directories
// for the .git entry.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// Commits lists up to limit commits reachable from HEAD, newest first.
// A repository without commits yields an empty list.
func (r *Repo) Commits(limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if len(commits) >= limit {
			return storer.ErrStop
		}
		commits = append(commits, summarize(c))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk log: %w", err)
	}
	return commits, nil
}

func summarize(c *object.Commit) Commit {
	hash := c.Hash.String()
	return Commit{
		Hash:    hash,
		Short:   hash[:7],
		Author:  c.Author.Name,
		Email:   c.Author.Email,
		When:    c.Author.When,
		Subject: subject(c.Message),
	}
}

func subject(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return strings.TrimSpace(line)
}

// FilterCommits keeps commits whose author or subject contains filter,
// ignoring case. An empty filter keeps everything.
func FilterCommits(commits []Commit, filter string) []Commit {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return commits
	}
	var out []Commit
	for _, c := range commits {
		if strings.Contains(strings.ToLower(c.Author), filter) || strings.Contains(strings.ToLower(c.Subject), filter) {
			out = append(out, c)
		}
	}
	return out
}

// Resolve returns the commit named by rev, which may be a full or
// abbreviated hash or any revision git understands.
func (r *Repo) Resolve(rev string) (*object.Commit, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", rev, err)
	}
	return commit, nil
}

// CommitDiff diffs a commit against its first parent, or against the empty
// tree for a root commit. Files are ordered by path.
func (r *Repo) CommitDiff(rev string, context int) ([]FileDiff, error) {
	commit, err := r.Resolve(rev)
	if err != nil {
		return nil, err
	}
	return diffCommit(commit, context)
}

func diffCommit(commit *object.Commit, context int) ([]FileDiff, error) {
	to, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	from := &object.Tree{}
	if commit.NumParents() > 0 {
		parent, err := commit.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("read parent: %w", err)
		}
		if from, err = parent.Tree(); err != nil {
			return nil, fmt.Errorf("read parent tree: %w", err)
		}
	}
	changes, err := object.DiffTree(from, to)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	diffs := make([]FileDiff, 0, len(changes))
	for _, change := range changes {
		fd, err := diffChange(change, context)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, fd)
	}
	sort.SliceStable(diffs, func(i, j int) bool { return diffs[i].Path() < diffs[j].Path() })
	return diffs, nil
}

func diffChange(change *object.Change, context int) (FileDiff, error) {
	fd := FileDiff{OldPath: change.From.Name, NewPath: change.To.Name}
	fromFile, toFile, err := change.Files()
	if err != nil {
		return fd, fmt.Errorf("read %s: %w", fd.Path(), err)
	}
	oldText, binary, err := fileText(fromFile)
	if err != nil {
		return fd, err
	}
	newText, newBinary, err := fileText(toFile)
	if err != nil {
		return fd, err
	}
	if binary || newBinary {
		fd.Binary = true
		return fd, nil
	}
	fd.Hunks = unidiff.DiffText(oldText, newText, context)
	return fd, nil
}

func fileText(f *object.File) (string, bool, error) {
	if f == nil {
		return "", false, nil
	}
	binary, err := f.IsBinary()
	if err != nil {
		return "", false, fmt.Errorf("inspect %s: %w", f.Name, err)
	}
	if binary {
		return "", true, nil
	}
	content, err := f.Contents()
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return content, false, nil
}

// CommitDetail renders the commit header followed by every file diff.
func (r *Repo) CommitDetail(rev string, context int) ([]string, error) {
	commit, err := r.Resolve(rev)
	if err != nil {
		return nil, err
	}
	diffs, err := diffCommit(commit, context)
	if err != nil {
		return nil, err
	}
	lines := []string{
		"commit " + commit.Hash.String(),
		fmt.Sprintf("Author: %s <%s>", commit.Author.Name, commit.Author.Email),
		"Date:   " + commit.Author.When.Format(time.RFC1123Z),
		"",
	}
	for _, line := range unidiff.SplitLines(strings.TrimRight(commit.Message, "\n")) {
		lines = append(lines, "    "+line)
	}
	for _, fd := range diffs {
		lines = append(lines, "")
		lines = append(lines, fd.Lines()...)
	}
	return lines, nil
}
