package resourceprovider

import (
	"sort"
)

// pendingLoad is one (type, name) load request waiting to be served this
// frame, ordered by descending priority and, within a priority level,
// lexicographic (type, name) — per spec.md §4.5 "Priority and budget".
type pendingLoad struct {
	key      string
	typeName string
	name     string
	path     string
	priority int32
}

// refreshUsageCounters recomputes every generic entry's usage counter from
// the live usage records referencing it (spec.md §3 invariant: "usage
// counter equals the number of live usage records"), and detects 0→1 /
// N→0 transitions against the counter observed on the previous tick to
// decide which loads to enqueue or cancel this frame.
func (p *Provider) refreshUsageCounters() ([]pendingLoad, []string, error) {
	genericDesc, _ := p.registry.StructByName(TypeGenericEntry)
	keyField := mustField(genericDesc, "key")
	usageDesc, _ := p.registry.StructByName(TypeUsageRecord)
	usageKeyField := mustField(usageDesc, "key")
	priorityField := mustField(usageDesc, "priority")

	var toLoad []pendingLoad
	var toUnload []string

	for _, id := range p.genericEntries.SequenceCursor() {
		acc, err := p.genericEntries.ReadAccess(id)
		if err != nil {
			return nil, nil, err
		}
		data := acc.Resolve()
		if data == nil {
			acc.Close()
			continue
		}
		typeName := getString(data, mustField(genericDesc, "type"))
		name := getString(data, mustField(genericDesc, "name"))
		path := getString(data, mustField(genericDesc, "path"))
		key := getString(data, keyField)
		acc.Close()

		usageIDs, err := p.usageRecords.ValueQuery("key", []byte(padKey(key, int(usageKeyField.Size))))
		if err != nil {
			return nil, nil, err
		}
		count := int32(len(usageIDs))
		var maxPriority int32
		first := true
		for _, uid := range usageIDs {
			uacc, err := p.usageRecords.ReadAccess(uid)
			if err != nil {
				return nil, nil, err
			}
			udata := uacc.Resolve()
			if udata != nil {
				pr := getInt32(udata, priorityField)
				if first || pr > maxPriority {
					maxPriority = pr
					first = false
				}
			}
			uacc.Close()
		}

		prev := p.lastUsageCounter[key]
		p.lastUsageCounter[key] = count

		wacc, err := p.genericEntries.UpdateAccess(id)
		if err != nil {
			return nil, nil, err
		}
		wdata := wacc.Resolve()
		if wdata != nil {
			putInt32(wdata, mustField(genericDesc, "usage_counter"), count)
		}
		if err := wacc.Close(); err != nil {
			return nil, nil, err
		}

		switch {
		case prev == 0 && count > 0:
			toLoad = append(toLoad, pendingLoad{key: key, typeName: typeName, name: name, path: path, priority: maxPriority})
		case prev > 0 && count == 0:
			toUnload = append(toUnload, key)
		case count > 0:
			// Already loaded or loading; hot-reload (reload.go) is the only
			// other path that re-enqueues a load for an in-steady-state entry.
		}
	}

	sort.Slice(toLoad, func(i, j int) bool {
		if toLoad[i].priority != toLoad[j].priority {
			return toLoad[i].priority > toLoad[j].priority
		}
		if toLoad[i].typeName != toLoad[j].typeName {
			return toLoad[i].typeName < toLoad[j].typeName
		}
		return toLoad[i].name < toLoad[j].name
	})
	return toLoad, toUnload, nil
}

// unloadEntry clears a typed entry's container ids and schedules the old
// loaded container for destruction at the next frame boundary, per
// spec.md §4.5 "Usage counter decrements".
func (p *Provider) unloadEntry(key string) error {
	typedDesc, _ := p.registry.StructByName(TypeTypedEntry)
	keyField := mustField(typedDesc, "key")
	ids, err := p.typedEntries.ValueQuery("key", []byte(padKey(key, int(keyField.Size))))
	if err != nil {
		return err
	}
	for _, id := range ids {
		acc, err := p.typedEntries.UpdateAccess(id)
		if err != nil {
			return err
		}
		data := acc.Resolve()
		if data != nil {
			loadedField := mustField(typedDesc, "loaded_container_id")
			loadingField := mustField(typedDesc, "loading_container_id")
			pendingField := mustField(typedDesc, "loading_pending")
			oldLoaded := getString(data, loadedField)
			p.containers.ScheduleDestroy(oldLoaded)
			putString(data, loadedField, "")
			putString(data, loadingField, "")
			putBool(data, pendingField, false)
		}
		if err := acc.Close(); err != nil {
			return err
		}
	}
	return nil
}
