// Package resourceprovider implements the resource provider mutator group:
// entry discovery, usage-driven loading with a priority-ordered serve
// budget, hot reload via a file-system watcher, and third-party blob
// lifecycle, all built on top of the repository package's storages and
// automatic events.
package resourceprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/repository"
	"github.com/KonstantinTomashevich/Kan-sub009/universe"
)

// Config drives one provider instance: which directory it serves resources
// from, and how much work it may do per frame.
type Config struct {
	VirtualDirectory string
	ServeBudget      time.Duration // spec.md's serve_budget_ns; 0 means unlimited
	Watcher          Watcher       // optional; nil disables hot reload
}

// Provider is a mutator group running inside a world: it reads
// resource_usage_record insertions and a per-frame serve budget, and
// maintains generic/typed entry records, loaded containers and third-party
// blobs in the owning repository.
type Provider struct {
	config Config
	logger kanlog.Logger

	registry reflection.Registry
	repo     *repository.Repository

	genericEntries    *repository.IndexedStorage
	typedEntries      *repository.IndexedStorage
	usageRecords      *repository.IndexedStorage
	thirdPartyEntries *repository.IndexedStorage

	containers *containerTable
	blobs      *blobTable

	watcher Watcher

	lastUsageCounter map[string]int32
	pendingLoads     []pendingLoad
}

// New constructs a provider for config. The registry passed to
// RegisterSchema must be the same registry the owning world was deployed
// with, so the opened storages resolve to the same struct descriptions.
func New(config Config, registry reflection.Registry, logger kanlog.Logger) *Provider {
	if logger == nil {
		logger = kanlog.Noop{}
	}
	return &Provider{
		config:           config,
		logger:           logger,
		registry:         registry,
		watcher:          config.Watcher,
		containers:       newContainerTable(),
		blobs:            newBlobTable(),
		lastUsageCounter: make(map[string]int32),
	}
}

// Descriptor declares the provider's storage footprint so universe can
// place it correctly in a pipeline's workflow graph relative to consumers
// (e.g. the render foundation's frame-execution checkpoint, per
// spec.md §4.6).
func (p *Provider) Descriptor() universe.MutatorDescriptor {
	return universe.MutatorDescriptor{
		Name:  "resource_provider",
		Group: "resource_provider",
		Reads: []string{TypeUsageRecord},
		Writes: []string{
			TypeGenericEntry, TypeTypedEntry, TypeThirdPartyBlob,
			EventRegistered, EventUpdated, EventLoaded, EventLoadFailed,
			EventBlobAvailable, EventThirdPartyUpdated,
		},
	}
}

// Deploy opens every storage the provider touches. Legal only while the
// world is in Planning, per repository's mode contract.
func (p *Provider) Deploy(ctx context.Context, w *universe.World) error {
	p.repo = w.Repository()

	var err error
	if p.genericEntries, err = p.repo.OpenIndexed(TypeGenericEntry); err != nil {
		return fmt.Errorf("resourceprovider: %w", err)
	}
	if p.typedEntries, err = p.repo.OpenIndexed(TypeTypedEntry); err != nil {
		return fmt.Errorf("resourceprovider: %w", err)
	}
	if p.usageRecords, err = p.repo.OpenIndexed(TypeUsageRecord); err != nil {
		return fmt.Errorf("resourceprovider: %w", err)
	}
	if p.thirdPartyEntries, err = p.repo.OpenIndexed(TypeThirdPartyBlob); err != nil {
		return fmt.Errorf("resourceprovider: %w", err)
	}
	for _, eventType := range []string{EventRegistered, EventUpdated, EventLoaded, EventLoadFailed, EventBlobAvailable, EventThirdPartyUpdated} {
		if _, err := p.repo.OpenEvent(eventType); err != nil {
			return fmt.Errorf("resourceprovider: %w", err)
		}
	}
	return nil
}

// Execute runs one frame of the provider's work: drain watcher ticks,
// recompute usage counters, serve pending loads within budget, and service
// pending third-party blobs.
func (p *Provider) Execute(ctx context.Context, job universe.JobHandle) error {
	p.containers.DrainPending()
	p.blobs.DrainPending()

	if err := p.syncEntries(); err != nil {
		return fmt.Errorf("resourceprovider: scanning entries: %w", err)
	}

	reloads, err := p.drainWatcherTicks()
	if err != nil {
		return fmt.Errorf("resourceprovider: processing watcher ticks: %w", err)
	}

	toLoad, toUnload, err := p.refreshUsageCounters()
	if err != nil {
		return fmt.Errorf("resourceprovider: refreshing usage counters: %w", err)
	}
	for _, key := range toUnload {
		if err := p.unloadEntry(key); err != nil {
			return fmt.Errorf("resourceprovider: unloading %q: %w", key, err)
		}
	}

	toLoad = append(toLoad, reloads...)
	if err := p.loadPendingThirdPartyBlobs(); err != nil {
		return fmt.Errorf("resourceprovider: loading third-party blobs: %w", err)
	}
	if err := p.serveLoads(toLoad); err != nil {
		return fmt.Errorf("resourceprovider: serving loads: %w", err)
	}
	return nil
}

// Undeploy closes the watcher, if any; storages are torn down by the
// owning world's repository destruction.
func (p *Provider) Undeploy(ctx context.Context, w *universe.World) error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

// RetrieveLoaded is the "retrieve-if-loaded" convenience macro (spec.md
// §4.5): it resolves a typed entry by (type, name) and, iff a container is
// loaded, returns its payload. The caller's read access to the underlying
// generic/typed entries is not required — payload bytes are only valid
// until the next Execute call schedules their container for destruction.
func (p *Provider) RetrieveLoaded(typeName, name string, requireFresh bool) ([]byte, bool) {
	typedDesc, _ := p.registry.StructByName(TypeTypedEntry)
	keyField := mustField(typedDesc, "key")
	key := entryKeyOf(typeName, name)

	ids, err := p.typedEntries.ValueQuery("key", []byte(padKey(key, int(keyField.Size))))
	if err != nil || len(ids) == 0 {
		return nil, false
	}
	acc, err := p.typedEntries.ReadAccess(ids[0])
	if err != nil {
		return nil, false
	}
	defer acc.Close()
	data := acc.Resolve()
	if data == nil {
		return nil, false
	}
	if requireFresh && getBool(data, mustField(typedDesc, "loading_pending")) {
		return nil, false
	}
	containerID := getString(data, mustField(typedDesc, "loaded_container_id"))
	if containerID == "" {
		return nil, false
	}
	return p.containers.Get(containerID)
}

// RetrieveBlob returns a third-party blob's bytes, if available.
func (p *Provider) RetrieveBlob(id string) ([]byte, bool) {
	return p.blobs.Get(id)
}

// DeleteBlob removes a third-party blob record and its bytes once a
// consumer is done with it, per spec.md §4.5's third-party blob lifecycle.
func (p *Provider) DeleteBlob(id string) error {
	desc, _ := p.registry.StructByName(TypeThirdPartyBlob)
	idField := mustField(desc, "id")
	for _, recID := range p.thirdPartyEntries.SequenceCursor() {
		acc, err := p.thirdPartyEntries.ReadAccess(recID)
		if err != nil {
			return err
		}
		data := acc.Resolve()
		matches := data != nil && getString(data, idField) == id
		acc.Close()
		if matches {
			p.blobs.ScheduleDestroy(id)
			return p.thirdPartyEntries.Delete(recID)
		}
	}
	return ErrUnknownBlob
}

var _ universe.Mutator = (*Provider)(nil)
