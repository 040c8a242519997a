package resourceprovider

import "github.com/KonstantinTomashevich/Kan-sub009/watch"

// Watcher is the minimal file-system-watcher interface the provider
// consumes; watch.Watcher implements it, wrapping fsnotify.
type Watcher interface {
	Events() <-chan watch.ChangeEvent
	Close() error
}

// drainWatcherTicks consumes every change event currently queued (a single
// non-blocking drain, representing "one watcher tick"), re-hashing the
// affected files and enqueuing reloads for content that actually changed.
// Per spec.md §4.5 "Hot reload", every updated event produced by one tick
// must land in the same frame, which a single drain-then-process pass
// guarantees.
func (p *Provider) drainWatcherTicks() ([]pendingLoad, error) {
	if p.watcher == nil {
		return nil, nil
	}
	changed := make(map[string]bool)
	for {
		select {
		case ev, ok := <-p.watcher.Events():
			if !ok {
				p.watcher = nil
				return nil, nil
			}
			if ev.Err != nil {
				p.logger.Error("resource watcher error", "err", ev.Err)
				continue
			}
			changed[ev.Path] = true
		default:
			var reloads []pendingLoad
			for path := range changed {
				loads, err := p.reloadIfChanged(path)
				if err != nil {
					return nil, err
				}
				reloads = append(reloads, loads...)
			}
			return reloads, nil
		}
	}
}

// reloadIfChanged re-hashes path; if its content hash differs from the
// stored generic entry, it updates the entry, emits an "updated" event and
// enqueues a fresh load (even if already loaded — spec.md §4.5).
func (p *Provider) reloadIfChanged(path string) ([]pendingLoad, error) {
	if classify(path) == kindThirdParty {
		return nil, p.reloadThirdPartyBlob(path)
	}

	genericDesc, _ := p.registry.StructByName(TypeGenericEntry)
	pathField := mustField(genericDesc, "path")

	for _, id := range p.genericEntries.SequenceCursor() {
		acc, err := p.genericEntries.ReadAccess(id)
		if err != nil {
			return nil, err
		}
		data := acc.Resolve()
		if data == nil || getString(data, pathField) != path {
			acc.Close()
			continue
		}
		typeName := getString(data, mustField(genericDesc, "type"))
		name := getString(data, mustField(genericDesc, "name"))
		key := getString(data, mustField(genericDesc, "key"))
		usageCounter := getInt32(data, mustField(genericDesc, "usage_counter"))
		oldHash := getString(data, mustField(genericDesc, "content_hash"))
		acc.Close()

		newHash, err := hashFile(path)
		if err != nil {
			return nil, err
		}
		if newHash == oldHash {
			return nil, nil
		}

		wacc, err := p.genericEntries.UpdateAccess(id)
		if err != nil {
			return nil, err
		}
		if wdata := wacc.Resolve(); wdata != nil {
			putString(wdata, mustField(genericDesc, "content_hash"), newHash)
		}
		if err := wacc.Close(); err != nil {
			return nil, err
		}

		p.emitUpdated(typeName, name)
		if usageCounter <= 0 {
			return nil, nil
		}
		return []pendingLoad{{key: key, typeName: typeName, name: name, path: path, priority: 0}}, nil
	}
	return nil, nil
}

func (p *Provider) emitUpdated(typeName, name string) {
	desc, _ := p.registry.StructByName(EventUpdated)
	evStorage, err := p.repo.OpenEvent(EventUpdated)
	if err != nil {
		return
	}
	pkg, err := evStorage.BeginInsert()
	if err != nil || pkg == nil {
		return
	}
	data := pkg.Data()
	putString(data, mustField(desc, "type"), typeName)
	putString(data, mustField(desc, "name"), name)
	pkg.Submit()
}
