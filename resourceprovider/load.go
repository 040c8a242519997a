package resourceprovider

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KonstantinTomashevich/Kan-sub009/binfmt"
	"github.com/KonstantinTomashevich/Kan-sub009/rdfmt"
)

// serveLoads processes toLoad in the order refreshUsageCounters already
// sorted it (descending priority, then lexicographic type/name), stopping
// once cumulative work exceeds the configured serve budget. Loads past the
// budget remain pending for the next tick — spec.md §4.5 "Priority and
// budget" only requires progress, not completion, within one frame.
func (p *Provider) serveLoads(toLoad []pendingLoad) error {
	p.pendingLoads = append(p.pendingLoads, toLoad...)
	p.pendingLoads = dedupePendingLoads(p.pendingLoads)

	deadline := p.config.ServeBudget
	start := time.Now()
	var served int
	for _, load := range p.pendingLoads {
		if deadline > 0 && time.Since(start) >= deadline {
			break
		}
		if err := p.serveOneLoad(load); err != nil {
			return err
		}
		served++
	}
	p.pendingLoads = p.pendingLoads[served:]
	return nil
}

func dedupePendingLoads(loads []pendingLoad) []pendingLoad {
	seen := make(map[string]bool, len(loads))
	out := loads[:0]
	for _, l := range loads {
		if seen[l.key] {
			continue
		}
		seen[l.key] = true
		out = append(out, l)
	}
	return out
}

// serveOneLoad marks the typed entry loading, deserialises the backing
// file, then atomically commits the loaded container (or reports failure)
// per spec.md §4.5 "Usage-driven loading".
func (p *Provider) serveOneLoad(load pendingLoad) error {
	typedDesc, _ := p.registry.StructByName(TypeTypedEntry)
	keyField := mustField(typedDesc, "key")
	ids, err := p.typedEntries.ValueQuery("key", []byte(padKey(load.key, int(keyField.Size))))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	id := ids[0]

	if _, statErr := os.Stat(load.path); statErr != nil {
		p.emitLoadFailed(load.typeName, load.name, "file removed: "+statErr.Error())
		return nil
	}

	loadingID := p.containers.Create(load.typeName, nil)
	acc, err := p.typedEntries.UpdateAccess(id)
	if err != nil {
		return err
	}
	if data := acc.Resolve(); data != nil {
		putString(data, mustField(typedDesc, "loading_container_id"), loadingID)
		putBool(data, mustField(typedDesc, "loading_pending"), true)
	}
	if err := acc.Close(); err != nil {
		return err
	}

	payload, err := p.deserialize(load.typeName, load.path)
	if err != nil {
		p.containers.ScheduleDestroy(loadingID)
		p.emitLoadFailed(load.typeName, load.name, err.Error())

		acc, aerr := p.typedEntries.UpdateAccess(id)
		if aerr != nil {
			return aerr
		}
		if data := acc.Resolve(); data != nil {
			putString(data, mustField(typedDesc, "loading_container_id"), "")
			putBool(data, mustField(typedDesc, "loading_pending"), false)
		}
		return acc.Close()
	}

	containerID := p.containers.Create(load.typeName, payload)
	p.containers.ScheduleDestroy(loadingID)

	acc, err = p.typedEntries.UpdateAccess(id)
	if err != nil {
		return err
	}
	var oldLoaded string
	if data := acc.Resolve(); data != nil {
		oldLoaded = getString(data, mustField(typedDesc, "loaded_container_id"))
		putString(data, mustField(typedDesc, "loaded_container_id"), containerID)
		putString(data, mustField(typedDesc, "loading_container_id"), "")
		putBool(data, mustField(typedDesc, "loading_pending"), false)
	}
	if err := acc.Close(); err != nil {
		return err
	}
	if oldLoaded != "" && oldLoaded != containerID {
		p.containers.ScheduleDestroy(oldLoaded)
	}

	p.emitLoaded(load.typeName, load.name, containerID)
	return nil
}

// deserialize reads a resource file into a zero-initialised instance of its
// declared struct type, dispatching on extension exactly like
// resourcebuild's scan classification.
func (p *Provider) deserialize(typeName, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rd":
		_, data, err := rdfmt.Read(bytes.NewReader(raw), p.registry)
		return data, err
	case ".bin":
		reader, err := binfmt.NewReader(bytes.NewReader(raw), p.registry, typeName)
		if err != nil {
			return nil, err
		}
		for {
			status, err := reader.Step()
			if err != nil {
				return nil, err
			}
			if status == binfmt.Finished {
				return reader.Bytes(), nil
			}
		}
	default:
		return raw, nil
	}
}

func (p *Provider) emitLoaded(typeName, name, containerID string) {
	desc, _ := p.registry.StructByName(EventLoaded)
	evStorage, err := p.repo.OpenEvent(EventLoaded)
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
	putString(data, mustField(desc, "container_id"), containerID)
	pkg.Submit()
}

func (p *Provider) emitLoadFailed(typeName, name, reason string) {
	desc, _ := p.registry.StructByName(EventLoadFailed)
	evStorage, err := p.repo.OpenEvent(EventLoadFailed)
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
	putString(data, mustField(desc, "reason"), reason)
	pkg.Submit()
	p.logger.Error("resource load failed", "type", typeName, "name", name, "reason", reason)
}
