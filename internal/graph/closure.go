// Package graph expands a set of changed modules into the set that must be
// rebuilt.
//
// Expansion is a single hop: a module is pulled in only when its manifest
// names a changed module directly. Modules reaching a changed module through
// an intermediate dependency are not rebuilt.
package graph

import (
	"sort"

	"github.com/beacondao/mirin/internal/workspace"
)

// ChangeSet is the set of module ids touched by one batch of events.
// An empty ChangeSet means "rebuild everything".
type ChangeSet map[string]struct{}

// NewChangeSet builds a ChangeSet from ids, dropping duplicates.
func NewChangeSet(ids ...string) ChangeSet {
	cs := make(ChangeSet, len(ids))
	for _, id := range ids {
		cs.Add(id)
	}
	return cs
}

// Add inserts id.
func (cs ChangeSet) Add(id string) {
	cs[id] = struct{}{}
}

// Sorted returns the ids in lexical order.
func (cs ChangeSet) Sorted() []string {
	return sortedKeys(cs)
}

// Closure is a BuildClosure: the modules to compile in one cycle.
type Closure struct {
	all       bool
	ids       map[string]struct{}
	scheduler bool
}

// Unrestricted is the closure that builds every module.
func Unrestricted() Closure {
	return Closure{all: true}
}

// All reports whether the closure is unrestricted.
func (c Closure) All() bool { return c.all }

// SchedulerTouched reports whether the scheduler's own sources changed.
func (c Closure) SchedulerTouched() bool { return c.scheduler }

// Contains reports whether module id must be compiled.
func (c Closure) Contains(id string) bool {
	if c.all {
		return true
	}
	_, ok := c.ids[id]
	return ok
}

// Len is the number of explicitly listed modules; zero for an unrestricted closure.
func (c Closure) Len() int { return len(c.ids) }

// IDs returns the explicitly listed modules in lexical order.
func (c Closure) IDs() []string { return sortedKeys(c.ids) }

// Skip reports whether the cycle has nothing to do and must not reach the builder.
func (c Closure) Skip() bool {
	return !c.all && !c.scheduler && len(c.ids) == 0
}

// Resolve computes the closure of seed over modules.
//
// isScheduler identifies the scheduler's id. The scheduler is never listed in
// the closure since it is always rebuilt; a seed naming it only marks the
// closure so the cycle still runs. Ids that match no module are dropped
// before expansion, so they never pull in dependents.
func Resolve(seed ChangeSet, modules []workspace.Module, isScheduler func(string) bool) Closure {
	if len(seed) == 0 {
		return Unrestricted()
	}

	c := Closure{ids: make(map[string]struct{})}
	known := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		known[m.ID] = struct{}{}
	}

	// changed is the seed restricted to modules that exist
	changed := make(map[string]struct{}, len(seed))
	for id := range seed {
		if isScheduler != nil && isScheduler(id) {
			c.scheduler = true
			continue
		}
		if _, ok := known[id]; ok {
			changed[id] = struct{}{}
			c.ids[id] = struct{}{}
		}
	}
	if len(changed) == 0 {
		return c
	}

	for _, m := range modules {
		if _, ok := changed[m.ID]; ok {
			continue
		}
		if m.DependsOnAny(changed) {
			c.ids[m.ID] = struct{}{}
		}
	}

	return c
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
