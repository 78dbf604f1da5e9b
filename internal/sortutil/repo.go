package sortutil

import (
	"sort"

	"github.com/skaphos/repofleet/internal/model"
)

// LessAttentionPath orders repositories that need attention first, then by
// path so the view is deterministic.
func LessAttentionPath(attnI bool, pathI string, attnJ bool, pathJ string) bool {
	if attnI == attnJ {
		return pathI < pathJ
	}
	return attnI
}

// SortTargets orders targets attention-first, then by Path. attention may be
// nil, in which case only the path is used.
func SortTargets(targets []model.RepoTarget, attention func(path string) bool) {
	if attention == nil {
		attention = func(string) bool { return false }
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return LessAttentionPath(attention(targets[i].Path), targets[i].Path, attention(targets[j].Path), targets[j].Path)
	})
}

// SortTargetsByPath orders registry targets by Path.
func SortTargetsByPath(targets []model.RepoTarget) {
	SortTargets(targets, nil)
}
