// SPDX-License-Identifier: MIT
// Package registry persists the list of working copies repofleet manages
// and tracks whether their directories still exist.
package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/sortutil"
)

// EntryStatus represents whether a registry entry's path is still valid.
type EntryStatus string

const (
	StatusPresent EntryStatus = "present"
	StatusMissing EntryStatus = "missing"
)

// Entry is a registered working copy plus bookkeeping.
type Entry struct {
	model.RepoTarget `yaml:",inline"`
	LastSeen         time.Time   `yaml:"last_seen,omitempty"`
	Status           EntryStatus `yaml:"status,omitempty"`
}

// Registry is the persisted set of working copies, keyed by path.
type Registry struct {
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
	Entries   []Entry   `yaml:"repos"`
}

// Load reads a registry file from the given path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// LoadOrEmpty reads the registry, returning an empty one when the file does
// not exist yet.
func LoadOrEmpty(path string) (*Registry, error) {
	reg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Registry{}, nil
	}
	return reg, err
}

// Save writes the registry to the given path.
func Save(reg *Registry, path string) error {
	if reg == nil {
		return errors.New("registry is nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	reg.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Add registers target, or merges its names and groups into the entry
// already registered at the same path. It reports whether a new entry was
// created.
func (r *Registry) Add(target model.RepoTarget) bool {
	target.Path = filepath.Clean(target.Path)
	now := time.Now().UTC()
	for i := range r.Entries {
		if r.Entries[i].Path != target.Path {
			continue
		}
		existing := &r.Entries[i]
		existing.Names = mergeUnique(existing.Names, target.Names, strings.EqualFold)
		existing.Groups = mergeUnique(existing.Groups, target.Groups, func(a, b string) bool { return a == b })
		existing.Repo = target.Repo
		existing.LastSeen = now
		existing.Status = StatusPresent
		return false
	}
	target.Names = mergeUnique(nil, target.Names, strings.EqualFold)
	r.Entries = append(r.Entries, Entry{RepoTarget: target, LastSeen: now, Status: StatusPresent})
	return true
}

func mergeUnique(base, extra []string, same func(a, b string) bool) []string {
	out := append([]string(nil), base...)
	for _, candidate := range extra {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		dup := false
		for _, have := range out {
			if same(have, candidate) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, candidate)
		}
	}
	return out
}

// Remove drops the entry at path and reports whether one existed.
func (r *Registry) Remove(path string) bool {
	path = filepath.Clean(path)
	for i := range r.Entries {
		if r.Entries[i].Path == path {
			r.Entries = append(r.Entries[:i], r.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// ValidatePaths checks all entries against the filesystem and marks
// entries as missing or present.
func (r *Registry) ValidatePaths() error {
	now := time.Now().UTC()
	for i := range r.Entries {
		_, err := os.Stat(r.Entries[i].Path)
		if err != nil {
			if os.IsNotExist(err) {
				r.Entries[i].Status = StatusMissing
				continue
			}
			return err
		}
		r.Entries[i].Status = StatusPresent
		r.Entries[i].LastSeen = now
	}
	return nil
}

// PruneStale removes entries marked as missing that are older than
// the given threshold.
func (r *Registry) PruneStale(olderThan time.Duration) int {
	if olderThan <= 0 {
		return 0
	}
	now := time.Now()
	var kept []Entry
	pruned := 0
	for _, entry := range r.Entries {
		if entry.Status == StatusMissing && entry.LastSeen.Before(now.Add(-olderThan)) {
			pruned++
			continue
		}
		kept = append(kept, entry)
	}
	r.Entries = kept
	return pruned
}

// FindByPath returns the entry registered at path, or nil.
func (r *Registry) FindByPath(path string) *Entry {
	path = filepath.Clean(path)
	for i := range r.Entries {
		if r.Entries[i].Path == path {
			return &r.Entries[i]
		}
	}
	return nil
}

// FindByName returns the first entry with an exact, case-insensitive name
// match, or nil.
func (r *Registry) FindByName(name string) *Entry {
	for i := range r.Entries {
		if r.Entries[i].HasName(name) {
			return &r.Entries[i]
		}
	}
	return nil
}

// Targets returns every registered target ordered by path.
func (r *Registry) Targets() []model.RepoTarget {
	out := make([]model.RepoTarget, 0, len(r.Entries))
	for _, entry := range r.Entries {
		out = append(out, entry.RepoTarget)
	}
	sortutil.SortTargetsByPath(out)
	return out
}

// Repos returns the targets that are git working trees.
func (r *Registry) Repos() []model.RepoTarget {
	var out []model.RepoTarget
	for _, target := range r.Targets() {
		if target.Repo {
			out = append(out, target)
		}
	}
	return out
}

// Filter returns the targets with a name containing needle, ignoring case.
// An empty needle matches everything.
func Filter(targets []model.RepoTarget, needle string) []model.RepoTarget {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return append([]model.RepoTarget(nil), targets...)
	}
	var out []model.RepoTarget
	for _, target := range targets {
		for _, name := range target.Names {
			if strings.Contains(strings.ToLower(name), needle) {
				out = append(out, target)
				break
			}
		}
	}
	return out
}
