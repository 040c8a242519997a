// Package repository implements the reflection-driven, concurrency-safe
// in-memory data plane: singleton storages, indexed storages, event
// storages, queries and scope-bounded accesses, automatic change events,
// cascade deletion and migration between reflection registries.
package repository

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// Mode is one of the repository's two global states. Query construction,
// storage opening and cascade/meta registration are only legal in
// Planning; execution of accesses is only legal in Serving.
type Mode uint8

const (
	Planning Mode = iota
	Serving
)

func (m Mode) String() string {
	if m == Serving {
		return "serving"
	}
	return "planning"
}

// Repository is a node in a tree of repositories. Singleton and event
// storages are inherited upward (a lookup that misses locally walks to the
// parent); indexed storages are strictly local.
type Repository struct {
	mu       sync.RWMutex
	parent   *Repository
	children []*Repository

	registry reflection.Registry
	logger   kanlog.Logger

	mode  Mode
	epoch uint64 // incremented on every mode transition, see SPEC_FULL §3.

	singletons map[string]*SingletonStorage
	indexed    map[string]*IndexedStorage
	events     map[string]*EventStorage
}

// New constructs a root repository in Planning mode.
func New(registry reflection.Registry, logger kanlog.Logger) *Repository {
	if logger == nil {
		logger = kanlog.Noop{}
	}
	return &Repository{
		registry:   registry,
		logger:     logger,
		mode:       Planning,
		singletons: make(map[string]*SingletonStorage),
		indexed:    make(map[string]*IndexedStorage),
		events:     make(map[string]*EventStorage),
	}
}

// NewChild creates a child repository sharing this repository's registry
// and logger. The child must be in the parent's current mode's lifecycle;
// children are always created in Planning regardless of the parent's mode,
// mirroring Universe world deployment (worlds are planned before serving).
func (r *Repository) NewChild() *Repository {
	child := New(r.registry, r.logger)
	r.mu.Lock()
	child.parent = r
	r.children = append(r.children, child)
	r.mu.Unlock()
	return child
}

// Mode reports the repository's current mode.
func (r *Repository) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Epoch reports the repository's current transition epoch.
func (r *Repository) Epoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// EnterServing transitions Planning -> Serving, rebuilding derived
// artifacts (observation buffers, trigger lists) for every local storage.
func (r *Repository) EnterServing() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != Planning {
		return fmt.Errorf("%w: EnterServing requires planning mode, got %s", ErrWrongMode, r.mode)
	}
	for _, s := range r.singletons {
		s.rebuildDerived()
	}
	for _, s := range r.indexed {
		s.rebuildDerived()
	}
	r.mode = Serving
	r.epoch++
	return nil
}

// EnterPlanning transitions Serving -> Planning, releasing all derived
// artifacts. Returns an error if any storage still has a live access open
// (no leaked accesses may cross the transition).
func (r *Repository) EnterPlanning() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != Serving {
		return fmt.Errorf("%w: EnterPlanning requires serving mode, got %s", ErrWrongMode, r.mode)
	}
	for _, s := range r.singletons {
		if atomic.LoadInt64(&s.state) != 0 {
			return fmt.Errorf("repository: leaked access on singleton %q", s.desc.Name)
		}
	}
	for _, s := range r.indexed {
		if s.liveAccessCount() != 0 {
			return fmt.Errorf("repository: leaked access on indexed storage %q", s.desc.Name)
		}
	}
	for _, s := range r.singletons {
		s.releaseDerived()
	}
	for _, s := range r.indexed {
		s.releaseDerived()
	}
	r.mode = Planning
	r.epoch++
	return nil
}

// OpenSingleton opens (creating if necessary, locally) the singleton
// storage for the named struct type. Legal only in Planning.
func (r *Repository) OpenSingleton(typeName string) (*SingletonStorage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != Planning {
		return nil, fmt.Errorf("%w: OpenSingleton", ErrWrongMode)
	}
	if s, ok := r.singletons[typeName]; ok {
		return s, nil
	}
	desc, ok := r.registry.StructByName(typeName)
	if !ok {
		r.logger.Error("unknown singleton type", "type", typeName)
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	s := newSingletonStorage(r, desc)
	r.singletons[typeName] = s
	return s, nil
}

// FindSingleton resolves a singleton storage, walking up to ancestors if
// not present locally (singleton storages are inherited).
func (r *Repository) FindSingleton(typeName string) (*SingletonStorage, bool) {
	r.mu.RLock()
	s, ok := r.singletons[typeName]
	parent := r.parent
	r.mu.RUnlock()
	if ok {
		return s, true
	}
	if parent != nil {
		return parent.FindSingleton(typeName)
	}
	return nil, false
}

// OpenIndexed opens (creating if necessary) the strictly-local indexed
// storage for the named struct type. Legal only in Planning.
func (r *Repository) OpenIndexed(typeName string) (*IndexedStorage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != Planning {
		return nil, fmt.Errorf("%w: OpenIndexed", ErrWrongMode)
	}
	if s, ok := r.indexed[typeName]; ok {
		return s, nil
	}
	desc, ok := r.registry.StructByName(typeName)
	if !ok {
		r.logger.Error("unknown indexed type", "type", typeName)
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	s := newIndexedStorage(r, desc)
	r.indexed[typeName] = s
	return s, nil
}

// FindIndexed resolves a strictly-local indexed storage (no upward walk).
func (r *Repository) FindIndexed(typeName string) (*IndexedStorage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.indexed[typeName]
	return s, ok
}

// OpenEvent opens (creating if necessary, on the nearest repository that
// already holds it, else locally) the event storage for the named struct
// type. Event storages are inherited: a storage opened in a child must
// deliver to fetch queries created in ancestors, via a single underlying
// queue shared by upward lookup.
func (r *Repository) OpenEvent(typeName string) (*EventStorage, error) {
	if existing, ok := r.FindEvent(typeName); ok {
		return existing, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != Planning {
		return nil, fmt.Errorf("%w: OpenEvent", ErrWrongMode)
	}
	if s, ok := r.events[typeName]; ok {
		return s, nil
	}
	desc, ok := r.registry.StructByName(typeName)
	if !ok {
		r.logger.Error("unknown event type", "type", typeName)
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	s := newEventStorage(r, desc)
	r.events[typeName] = s
	return s, nil
}

// FindEvent resolves an event storage, walking up to ancestors if not
// present locally.
func (r *Repository) FindEvent(typeName string) (*EventStorage, bool) {
	r.mu.RLock()
	s, ok := r.events[typeName]
	parent := r.parent
	r.mu.RUnlock()
	if ok {
		return s, true
	}
	if parent != nil {
		return parent.FindEvent(typeName)
	}
	return nil, false
}

// Destroy tears down this repository: children first, then this
// repository's storages. Event storages persist if a sibling/descendant of
// the destroyed subtree still holds a reference to the same inherited
// queue (tracked via refcount on EventStorage).
func (r *Repository) Destroy() {
	r.mu.Lock()
	children := append([]*Repository(nil), r.children...)
	r.mu.Unlock()

	for _, c := range children {
		c.Destroy()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.events {
		s.release()
	}
	r.singletons = nil
	r.indexed = nil
	r.events = nil
}

// Migrate rewrites every record in every storage (recursively through the
// tree rooted at r) to match new struct layouts from newRegistry: fields
// present in both old and new layouts are copied by name, fields missing
// in the new layout are dropped, and new fields are value-initialised.
// Legal only in Planning (reflection was invalidated while planning).
func (r *Repository) Migrate(newRegistry reflection.Registry) error {
	r.mu.Lock()
	if r.mode != Planning {
		r.mu.Unlock()
		return fmt.Errorf("%w: Migrate", ErrWrongMode)
	}
	oldRegistry := r.registry
	r.registry = newRegistry
	singletons := make([]*SingletonStorage, 0, len(r.singletons))
	for _, s := range r.singletons {
		singletons = append(singletons, s)
	}
	indexedStorages := make([]*IndexedStorage, 0, len(r.indexed))
	for _, s := range r.indexed {
		indexedStorages = append(indexedStorages, s)
	}
	children := append([]*Repository(nil), r.children...)
	r.mu.Unlock()

	for _, s := range singletons {
		newDesc, ok := newRegistry.StructByName(s.desc.Name)
		if !ok {
			continue
		}
		s.migrate(oldRegistry, newDesc)
	}
	for _, s := range indexedStorages {
		newDesc, ok := newRegistry.StructByName(s.desc.Name)
		if !ok {
			continue
		}
		s.migrate(oldRegistry, newDesc)
	}

	for _, c := range children {
		if err := c.Migrate(newRegistry); err != nil {
			return err
		}
	}
	return nil
}

// migrateRecord copies bytes for fields present (by name) in both old and
// new layouts, leaves fields missing in new dropped, and value-initialises
// fields new to the layout. Shared by singleton and indexed migration.
func migrateRecord(old *reflection.StructDescription, newDesc *reflection.StructDescription, oldData []byte) []byte {
	fresh := newDesc.NewZeroed()
	for _, nf := range newDesc.Fields {
		of, ok := old.FieldByName(nf.Name)
		if !ok {
			continue // new field: stays value-initialised
		}
		n := int(nf.Size)
		if int(of.Size) < n {
			n = int(of.Size)
		}
		srcEnd := int(of.Offset) + n
		dstEnd := int(nf.Offset) + n
		if srcEnd > len(oldData) || dstEnd > len(fresh) {
			continue
		}
		copy(fresh[nf.Offset:dstEnd], oldData[of.Offset:srcEnd])
	}
	return fresh
}
