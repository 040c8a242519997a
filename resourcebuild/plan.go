package resourcebuild

import (
	"fmt"
	"sort"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// ScheduledUnit is one entry scheduled for compilation: its build rule and
// the entries it must wait on (secondary pull-ins and reference edges).
type ScheduledUnit struct {
	Entry        Entry
	Rule         BuildRuleMeta
	DependsOn    []string // entry keys ("type:name") that must build first
}

func entryKey(e Entry) string { return e.Type + ":" + e.Name }

// Plan walks the reference closure of every root-marked entry and
// schedules build rules, partitioned into dependency levels for
// concurrent execution, per spec.md §4.4 phase 3.
func Plan(entries []Entry, refs []Reference, registry reflection.Registry) ([][]ScheduledUnit, error) {
	byKey := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.Kind != EntryThirdParty {
			byKey[entryKey(e)] = e
		}
	}

	outgoing := make(map[string][]string) // source entry key -> referenced entry keys
	for _, r := range refs {
		refKey := r.ReferencedType + ":" + r.ReferencedName
		if _, ok := byKey[refKey]; !ok {
			continue // unresolved reference: diagnostic already recorded, not scheduled
		}
		outgoing[entryKey(r.From)] = append(outgoing[entryKey(r.From)], refKey)
	}

	reachable := make(map[string]bool)
	var roots []string
	for key, e := range byKey {
		desc, ok := registry.StructByName(e.Type)
		if !ok {
			continue
		}
		if isRootType(desc) {
			roots = append(roots, key)
		}
	}
	sort.Strings(roots)

	var stack []string
	stack = append(stack, roots...)
	for _, k := range roots {
		reachable[k] = true
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range outgoing[cur] {
			if reachable[next] {
				continue
			}
			reachable[next] = true
			stack = append(stack, next)
		}
	}

	var scheduledKeys []string
	units := make(map[string]*ScheduledUnit)
	for key := range reachable {
		e := byKey[key]
		desc, ok := registry.StructByName(e.Type)
		if !ok {
			continue
		}
		rules := desc.Meta("resource_build_rule")
		if len(rules) == 0 {
			continue
		}
		rule, ok := rules[0].(BuildRuleMeta)
		if !ok {
			continue
		}

		unit := &ScheduledUnit{Entry: e, Rule: rule}
		for _, dep := range outgoing[key] {
			if reachable[dep] {
				unit.DependsOn = append(unit.DependsOn, dep)
			}
		}
		for _, secondaryType := range rule.SecondaryTypes {
			for candKey, cand := range byKey {
				if cand.Type == secondaryType {
					unit.DependsOn = append(unit.DependsOn, candKey)
					reachable[candKey] = true
				}
			}
		}
		sort.Strings(unit.DependsOn)
		units[key] = unit
		scheduledKeys = append(scheduledKeys, key)
	}
	sort.Strings(scheduledKeys)

	return levelize(scheduledKeys, units)
}

func isRootType(desc *reflection.StructDescription) bool {
	for _, m := range desc.Meta("resource_type") {
		if rt, ok := m.(ResourceTypeMeta); ok && rt.Root {
			return true
		}
	}
	return false
}

// levelize partitions scheduled units into topologically ordered levels so
// independent units within one level may build concurrently.
func levelize(keys []string, units map[string]*ScheduledUnit) ([][]ScheduledUnit, error) {
	indegree := make(map[string]int, len(keys))
	dependents := make(map[string][]string)
	for _, k := range keys {
		indegree[k] = 0
	}
	for _, k := range keys {
		for _, dep := range units[k].DependsOn {
			if _, ok := units[dep]; !ok {
				continue // dependency wasn't itself scheduled (no build rule); ignore
			}
			indegree[k]++
			dependents[dep] = append(dependents[dep], k)
		}
	}

	var levels [][]ScheduledUnit
	done := make(map[string]bool, len(keys))
	remaining := len(keys)
	for remaining > 0 {
		var level []string
		for _, k := range keys {
			if !done[k] && indegree[k] == 0 {
				level = append(level, k)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("%w: among remaining scheduled units", ErrReferenceCycle)
		}
		sort.Strings(level)
		var levelUnits []ScheduledUnit
		for _, k := range level {
			levelUnits = append(levelUnits, *units[k])
			done[k] = true
			remaining--
			for _, dep := range dependents[k] {
				indegree[dep]--
			}
		}
		levels = append(levels, levelUnits)
	}
	return levels, nil
}
