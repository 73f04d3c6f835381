package sections

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

type Action string

const (
	Added     Action = "added"
	Deleted   Action = "deleted"
	Modified  Action = "modified"
	Unchanged Action = "unchanged"
)

// Diff classifies every section of two snapshots.
type Diff map[string]Action

// Compute classifies each key of from ∪ to. Text equality is exact; no
// whitespace or semantic normalization is applied.
func Compute(from, to Content) Diff {
	diff := make(Diff, from.Len()+to.Len())
	for _, key := range lo.Union(from.keys, to.keys) {
		before, inFrom := from.values[key]
		after, inTo := to.values[key]
		switch {
		case inTo && !inFrom:
			diff[key] = Added
		case inFrom && !inTo:
			diff[key] = Deleted
		case before != after:
			diff[key] = Modified
		default:
			diff[key] = Unchanged
		}
	}
	return diff
}

// Changed returns the sorted section names whose action is not unchanged.
func (d Diff) Changed() []string {
	changed := lo.Filter(lo.Keys(d), func(key string, _ int) bool {
		return d[key] != Unchanged
	})
	sort.Strings(changed)
	return changed
}

// Count returns how many sections carry the given action.
func (d Diff) Count(action Action) int {
	return lo.CountBy(lo.Values(d), func(a Action) bool { return a == action })
}

// Summary is a short human readable description of the changed sections.
func (d Diff) Summary() string {
	changed := len(d.Changed())
	noun := "sections"
	if changed == 1 {
		noun = "section"
	}
	return fmt.Sprintf("%d %s changed (%d added, %d deleted, %d modified)",
		changed, noun, d.Count(Added), d.Count(Deleted), d.Count(Modified))
}
