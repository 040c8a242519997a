package repository

import (
	"fmt"
	"sync/atomic"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// SingletonStorage holds exactly one instance of a given struct type per
// repository.
type SingletonStorage struct {
	repo  *Repository
	desc  *reflection.StructDescription
	data  []byte

	// state: 0 = free, -1 = write held, n>0 = n concurrent reads held.
	// Maintained with atomic compare-and-swap per SPEC_FULL §5.
	state int64

	scenario *scenario
	triggers []changeTrigger
	epoch    uint64
}

func newSingletonStorage(repo *Repository, desc *reflection.StructDescription) *SingletonStorage {
	return &SingletonStorage{
		repo: repo,
		desc: desc,
		data: desc.NewZeroed(),
	}
}

func (s *SingletonStorage) rebuildDerived() {
	observed := collectObservedFields(s.desc)
	if len(observed) > 0 {
		if sc, err := fieldScenario(s.desc, observed); err == nil {
			s.scenario = sc
			s.triggers = resolveChangeTriggers(s.desc, sc)
		}
	} else {
		s.scenario = nil
		s.triggers = nil
	}
	s.epoch = s.repo.epoch
}

func (s *SingletonStorage) releaseDerived() {
	s.scenario = nil
	s.triggers = nil
}

func collectObservedFields(desc *reflection.StructDescription) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, m := range desc.Meta("on_change") {
		meta, ok := m.(OnChangeMeta)
		if !ok {
			continue
		}
		for _, f := range meta.ObservedFields {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	return fields
}

// acquireRead attempts a CAS-based shared acquisition; returns false on
// conflict with a live writer.
func (s *SingletonStorage) acquireRead() bool {
	for {
		cur := atomic.LoadInt64(&s.state)
		if cur < 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.state, cur, cur+1) {
			return true
		}
	}
}

func (s *SingletonStorage) releaseRead() {
	atomic.AddInt64(&s.state, -1)
}

// acquireWrite attempts a CAS-based exclusive acquisition; returns false on
// conflict with any live reader or writer.
func (s *SingletonStorage) acquireWrite() bool {
	return atomic.CompareAndSwapInt64(&s.state, 0, -1)
}

func (s *SingletonStorage) releaseWrite() {
	atomic.StoreInt64(&s.state, 0)
}

// SingletonReadAccess is a scope-bounded shared handle to a singleton record.
type SingletonReadAccess struct {
	storage *SingletonStorage
	closed  bool
}

// Resolve returns a read-only view of the record, or nil if the access
// failed to acquire (conflict already logged at creation time).
func (a *SingletonReadAccess) Resolve() []byte {
	if a == nil || a.storage == nil {
		return nil
	}
	return a.storage.data
}

// Close releases the shared access.
func (a *SingletonReadAccess) Close() {
	if a == nil || a.closed || a.storage == nil {
		return
	}
	a.closed = true
	a.storage.releaseRead()
}

// ReadAccess acquires a shared read access to the singleton. Legal only in
// Serving mode. Returns a non-nil access whose Resolve() is nil if the
// acquisition conflicted with a live writer.
func (s *SingletonStorage) ReadAccess() (*SingletonReadAccess, error) {
	if s.repo.Mode() != Serving {
		return nil, fmt.Errorf("%w: ReadAccess", ErrWrongMode)
	}
	if !s.acquireRead() {
		s.repo.logger.Error("singleton access conflict", "type", s.desc.Name, "kind", "read")
		return &SingletonReadAccess{}, nil
	}
	return &SingletonReadAccess{storage: s}, nil
}

// SingletonWriteAccess is a scope-bounded exclusive handle to a singleton
// record. On Close, the observation buffer taken at open is diffed against
// the current record and matching on_change triggers fire.
type SingletonWriteAccess struct {
	storage    *SingletonStorage
	closed     bool
	failed     bool
	snapshot   []byte
}

// Resolve returns a mutable view of the record, or nil if the acquisition
// conflicted.
func (a *SingletonWriteAccess) Resolve() []byte {
	if a == nil || a.failed || a.storage == nil {
		return nil
	}
	return a.storage.data
}

// Close diffs observed fields against the pre-write snapshot and fires
// matching on_change triggers, then releases the exclusive access.
func (a *SingletonWriteAccess) Close() error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true
	if a.failed || a.storage == nil {
		return nil
	}
	defer a.storage.releaseWrite()

	s := a.storage
	if s.scenario == nil || len(s.scenario.chunks) == 0 {
		return nil
	}
	changed := s.scenario.diff(a.snapshot, s.data)
	for _, trig := range s.triggers {
		if !trig.firedBy(changed) {
			continue
		}
		if err := fireChangeTrigger(s.repo, s.desc, a.snapshot, s.data, s.scenario, trig); err != nil {
			return err
		}
	}
	return nil
}

// WriteAccess acquires an exclusive write access to the singleton,
// snapshotting observed fields before returning. Legal only in Serving.
func (s *SingletonStorage) WriteAccess() (*SingletonWriteAccess, error) {
	if s.repo.Mode() != Serving {
		return nil, fmt.Errorf("%w: WriteAccess", ErrWrongMode)
	}
	if !s.acquireWrite() {
		s.repo.logger.Error("singleton access conflict", "type", s.desc.Name, "kind", "write")
		return &SingletonWriteAccess{failed: true}, nil
	}
	var snap []byte
	if s.scenario != nil {
		snap = s.scenario.snapshot(s.data)
	}
	return &SingletonWriteAccess{storage: s, snapshot: snap}, nil
}

func (s *SingletonStorage) migrate(oldRegistry reflection.Registry, newDesc *reflection.StructDescription) {
	old, ok := oldRegistry.StructByName(s.desc.Name)
	if !ok {
		old = s.desc
	}
	s.data = migrateRecord(old, newDesc, s.data)
	s.desc = newDesc
}

// fireChangeTrigger inserts an event carrying the declared copy-outs into
// the storage's event storage. Event production is elided (no-op, no
// error) when the event storage has no subscribers.
func fireChangeTrigger(repo *Repository, srcDesc *reflection.StructDescription, oldData, newData []byte, sc *scenario, trig changeTrigger) error {
	evStorage, err := repo.OpenEvent(trig.meta.EventType)
	if err != nil {
		return err
	}
	pkg, err := evStorage.BeginInsert()
	if err != nil {
		return err
	}
	if pkg == nil {
		return nil // no subscribers: elided per spec §4.2 error model.
	}
	if err := applyCopyOuts(srcDesc, oldData, evStorage.desc, pkg.data, trig.meta.OldCopyOuts); err != nil {
		pkg.Undo()
		return err
	}
	if err := applyCopyOuts(srcDesc, newData, evStorage.desc, pkg.data, trig.meta.NewCopyOuts); err != nil {
		pkg.Undo()
		return err
	}
	return pkg.Submit()
}
