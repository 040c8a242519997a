package repository

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// recordID identifies one record within an indexed storage. Index encodes
// the storage slot and Generation guards against stale handles after the
// slot is recycled, the same stale-handle-detection scheme the teacher
// uses for ecs.EntityID.
type recordID struct {
	index      uint64
	generation uint64
}

// recordSlot holds one record's bytes and its CAS access state (0 = free,
// -1 = write held, n>0 = n concurrent reads held), mirroring the
// per-singleton state machine but scoped per record, since the invariant
// in spec §3 ("a record has either one write access or N≥0 read accesses")
// is per-record, not per-storage.
type recordSlot struct {
	data       []byte
	generation uint64
	occupied   bool
	state      int64
}

// IndexedStorage holds a multiset of records of one struct type, strictly
// local to its owning repository.
type IndexedStorage struct {
	repo *Repository
	desc *reflection.StructDescription

	mu       sync.RWMutex
	slots    []*recordSlot
	free     []uint64
	byID     map[recordID]uint64 // recordID -> slot index, for O(1) stale-safe lookup
	count    int

	valueIndices  map[string]map[string]map[recordID]struct{} // field path -> key(raw bytes) -> set
	scenario      *scenario
	changeTrigger []changeTrigger
	insertMeta    []OnInsertMeta
	deleteMeta    []OnDeleteMeta
	cascades      []CascadeDeletionMeta
}

func newIndexedStorage(repo *Repository, desc *reflection.StructDescription) *IndexedStorage {
	s := &IndexedStorage{
		repo:         repo,
		desc:         desc,
		byID:         make(map[recordID]uint64),
		valueIndices: make(map[string]map[string]map[recordID]struct{}),
	}
	for _, m := range desc.Meta("cascade_deletion") {
		if cd, ok := m.(CascadeDeletionMeta); ok {
			s.cascades = append(s.cascades, cd)
		}
	}
	for _, m := range desc.Meta("on_insert") {
		if om, ok := m.(OnInsertMeta); ok {
			s.insertMeta = append(s.insertMeta, om)
		}
	}
	for _, m := range desc.Meta("on_delete") {
		if om, ok := m.(OnDeleteMeta); ok {
			s.deleteMeta = append(s.deleteMeta, om)
		}
	}
	return s
}

func (s *IndexedStorage) rebuildDerived() {
	observed := collectObservedFields(s.desc)
	if len(observed) > 0 {
		if sc, err := fieldScenario(s.desc, observed); err == nil {
			s.scenario = sc
			s.changeTrigger = resolveChangeTriggers(s.desc, sc)
		}
	}
}

func (s *IndexedStorage) releaseDerived() {
	s.scenario = nil
	s.changeTrigger = nil
}

func (s *IndexedStorage) liveAccessCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, slot := range s.slots {
		if slot != nil && slot.occupied && atomic.LoadInt64(&slot.state) != 0 {
			n++
		}
	}
	return n
}

// ensureValueIndex registers (lazily, idempotently) a Value index on the
// given field path, building it from the current records under the write
// lock. It does not check the repository mode.
func (s *IndexedStorage) ensureValueIndex(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.valueIndices[path]; ok {
		return nil
	}
	if _, err := reflection.ResolveFieldPath(s.desc, []string{path}); err != nil {
		return err
	}
	idx := make(map[string]map[recordID]struct{})
	for id, slotIdx := range s.byID {
		slot := s.slots[slotIdx]
		key := fieldKey(s.desc, slot.data, path)
		if idx[key] == nil {
			idx[key] = make(map[recordID]struct{})
		}
		idx[key][id] = struct{}{}
	}
	s.valueIndices[path] = idx
	return nil
}

func fieldKey(desc *reflection.StructDescription, data []byte, path string) string {
	resolved, err := reflection.ResolveFieldPath(desc, []string{path})
	if err != nil {
		return ""
	}
	return string(data[resolved.Offset : resolved.Offset+resolved.Size])
}

// --- insertion ---

// IndexedInsertionPackage is the begin/populate/submit-or-undo scope guard
// for indexed inserts.
type IndexedInsertionPackage struct {
	storage   *IndexedStorage
	data      []byte
	finalized bool
}

func (p *IndexedInsertionPackage) Data() []byte { return p.data }

// Submit commits the populated record, updating indices and firing
// on_insert triggers.
func (p *IndexedInsertionPackage) Submit() (recordID, error) {
	if p.finalized {
		return recordID{}, nil
	}
	p.finalized = true
	s := p.storage

	s.mu.Lock()
	var slotIdx uint64
	if n := len(s.free); n > 0 {
		slotIdx = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[slotIdx].generation++
		s.slots[slotIdx].data = p.data
		s.slots[slotIdx].occupied = true
		s.slots[slotIdx].state = 0
	} else {
		slotIdx = uint64(len(s.slots))
		s.slots = append(s.slots, &recordSlot{data: p.data, occupied: true})
	}
	id := recordID{index: slotIdx, generation: s.slots[slotIdx].generation}
	s.byID[id] = slotIdx
	s.count++
	for path, idx := range s.valueIndices {
		key := fieldKey(s.desc, p.data, path)
		if idx[key] == nil {
			idx[key] = make(map[recordID]struct{})
		}
		idx[key][id] = struct{}{}
	}
	s.mu.Unlock()

	for _, meta := range s.insertMeta {
		if err := fireUnconditionalTrigger(s.repo, s.desc, p.data, meta.EventType, meta.CopyOuts); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Undo discards the package without committing it.
func (p *IndexedInsertionPackage) Undo() {
	p.finalized = true
}

// BeginInsert starts an insertion. Legal only in Serving.
func (s *IndexedStorage) BeginInsert() (*IndexedInsertionPackage, error) {
	if s.repo.Mode() != Serving {
		return nil, fmt.Errorf("%w: BeginInsert", ErrWrongMode)
	}
	return &IndexedInsertionPackage{storage: s, data: s.desc.NewZeroed()}, nil
}

func fireUnconditionalTrigger(repo *Repository, srcDesc *reflection.StructDescription, data []byte, eventType string, copyOuts []CopyOut) error {
	evStorage, err := repo.OpenEvent(eventType)
	if err != nil {
		return err
	}
	pkg, err := evStorage.BeginInsert()
	if err != nil {
		return err
	}
	if pkg == nil {
		return nil
	}
	if err := applyCopyOuts(srcDesc, data, evStorage.desc, pkg.data, copyOuts); err != nil {
		pkg.Undo()
		return err
	}
	return pkg.Submit()
}

// --- read/write/delete access by recordID ---

func (s *IndexedStorage) slotFor(id recordID) (*recordSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	slot := s.slots[idx]
	if !slot.occupied || slot.generation != id.generation {
		return nil, false
	}
	return slot, true
}

// IndexedReadAccess is a scope-bounded shared handle to one record.
type IndexedReadAccess struct {
	slot   *recordSlot
	closed bool
}

func (a *IndexedReadAccess) Resolve() []byte {
	if a == nil || a.slot == nil {
		return nil
	}
	return a.slot.data
}

func (a *IndexedReadAccess) Close() {
	if a == nil || a.closed || a.slot == nil {
		return
	}
	a.closed = true
	atomic.AddInt64(&a.slot.state, -1)
}

// ReadAccess acquires a shared read access to one record by id.
func (s *IndexedStorage) ReadAccess(id recordID) (*IndexedReadAccess, error) {
	if s.repo.Mode() != Serving {
		return nil, fmt.Errorf("%w: ReadAccess", ErrWrongMode)
	}
	slot, ok := s.slotFor(id)
	if !ok {
		return nil, fmt.Errorf("%w: record %v", ErrStaleHandle, id)
	}
	for {
		cur := atomic.LoadInt64(&slot.state)
		if cur < 0 {
			s.repo.logger.Error("indexed access conflict", "type", s.desc.Name, "kind", "read")
			return &IndexedReadAccess{}, nil
		}
		if atomic.CompareAndSwapInt64(&slot.state, cur, cur+1) {
			return &IndexedReadAccess{slot: slot}, nil
		}
	}
}

// IndexedWriteAccess is a scope-bounded exclusive handle used for updates.
type IndexedWriteAccess struct {
	storage  *IndexedStorage
	id       recordID
	slot     *recordSlot
	snapshot []byte
	closed   bool
	failed   bool
}

func (a *IndexedWriteAccess) Resolve() []byte {
	if a == nil || a.failed || a.slot == nil {
		return nil
	}
	return a.slot.data
}

// Close diffs observed fields, refreshes value indices for changed key
// fields, and fires matching on_change triggers.
func (a *IndexedWriteAccess) Close() error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true
	if a.failed || a.slot == nil {
		return nil
	}
	defer atomic.StoreInt64(&a.slot.state, 0)

	s := a.storage
	s.mu.Lock()
	for path, idx := range s.valueIndices {
		oldKey := fieldKey(s.desc, a.snapshot, path)
		newKey := fieldKey(s.desc, a.slot.data, path)
		if oldKey == newKey {
			continue
		}
		if set, ok := idx[oldKey]; ok {
			delete(set, a.id)
		}
		if idx[newKey] == nil {
			idx[newKey] = make(map[recordID]struct{})
		}
		idx[newKey][a.id] = struct{}{}
	}
	s.mu.Unlock()

	if s.scenario == nil || len(s.scenario.chunks) == 0 {
		return nil
	}
	changed := s.scenario.diff(a.snapshot, a.slot.data)
	for _, trig := range s.changeTrigger {
		if !trig.firedBy(changed) {
			continue
		}
		if err := fireChangeTrigger(s.repo, s.desc, a.snapshot, a.slot.data, s.scenario, trig); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAccess acquires an exclusive write access to one record by id.
func (s *IndexedStorage) UpdateAccess(id recordID) (*IndexedWriteAccess, error) {
	if s.repo.Mode() != Serving {
		return nil, fmt.Errorf("%w: UpdateAccess", ErrWrongMode)
	}
	slot, ok := s.slotFor(id)
	if !ok {
		return nil, fmt.Errorf("%w: record %v", ErrStaleHandle, id)
	}
	if !atomic.CompareAndSwapInt64(&slot.state, 0, -1) {
		s.repo.logger.Error("indexed access conflict", "type", s.desc.Name, "kind", "write")
		return &IndexedWriteAccess{failed: true}, nil
	}
	var snap []byte
	if s.scenario != nil {
		snap = s.scenario.snapshot(slot.data)
	}
	return &IndexedWriteAccess{storage: s, id: id, slot: slot, snapshot: snap}, nil
}

// Delete removes a record, first collecting its full cascade-deletion
// closure breadth-first, then firing every on_delete event in one pass
// (per SPEC_FULL §9: avoids re-entering the same storage mid-delete).
func (s *IndexedStorage) Delete(id recordID) error {
	if s.repo.Mode() != Serving {
		return fmt.Errorf("%w: Delete", ErrWrongMode)
	}
	queue := []pendingDeletion{{storage: s, id: id}}
	var toDelete []pendingDeletion
	seen := map[*IndexedStorage]map[recordID]struct{}{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if seen[cur.storage] == nil {
			seen[cur.storage] = make(map[recordID]struct{})
		}
		if _, dup := seen[cur.storage][cur.id]; dup {
			continue
		}
		seen[cur.storage][cur.id] = struct{}{}
		toDelete = append(toDelete, cur)

		slot, ok := cur.storage.slotFor(cur.id)
		if !ok {
			continue
		}
		for _, cd := range cur.storage.cascades {
			childStorage, ok := cur.storage.repo.FindIndexed(cd.ChildType)
			if !ok {
				continue
			}
			parentVal := fieldKey(cur.storage.desc, slot.data, cd.ParentKeyField)
			childStorage.mu.RLock()
			for childID, slotIdx := range childStorage.byID {
				childSlot := childStorage.slots[slotIdx]
				if fieldKey(childStorage.desc, childSlot.data, cd.ChildKeyField) == parentVal {
					queue = append(queue, pendingDeletion{storage: childStorage, id: childID})
				}
			}
			childStorage.mu.RUnlock()
		}
	}

	// Acquire exclusive access to every collected record before mutating
	// any of them.
	acquired := make([]pendingDeletion, 0, len(toDelete))
	for _, p := range toDelete {
		slot, ok := p.storage.slotFor(p.id)
		if !ok {
			continue
		}
		if !atomic.CompareAndSwapInt64(&slot.state, 0, -1) {
			for _, a := range acquired {
				if s2, ok := a.storage.slotFor(a.id); ok {
					atomic.StoreInt64(&s2.state, 0)
				}
			}
			return fmt.Errorf("%w: delete of %v", ErrAccessConflict, p.id)
		}
		acquired = append(acquired, p)
	}

	for _, p := range acquired {
		slot, _ := p.storage.slotFor(p.id)
		for _, meta := range p.storage.deleteMeta {
			if err := fireUnconditionalTrigger(p.storage.repo, p.storage.desc, slot.data, meta.EventType, meta.CopyOuts); err != nil {
				atomic.StoreInt64(&slot.state, 0)
				return err
			}
		}
	}

	for _, p := range acquired {
		p.storage.removeLocked(p.id)
	}
	return nil
}

// pendingDeletion names a record awaiting cascade-deletion processing.
type pendingDeletion struct {
	storage *IndexedStorage
	id      recordID
}

func (s *IndexedStorage) removeLocked(id recordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return
	}
	slot := s.slots[idx]
	for path, vi := range s.valueIndices {
		key := fieldKey(s.desc, slot.data, path)
		if set, ok := vi[key]; ok {
			delete(set, id)
		}
	}
	slot.occupied = false
	slot.data = nil
	atomic.StoreInt64(&slot.state, 0)
	delete(s.byID, id)
	s.free = append(s.free, idx)
	s.count--
}

func (s *IndexedStorage) migrate(oldRegistry reflection.Registry, newDesc *reflection.StructDescription) {
	old, ok := oldRegistry.StructByName(s.desc.Name)
	if !ok {
		old = s.desc
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		if slot == nil || !slot.occupied {
			continue
		}
		slot.data = migrateRecord(old, newDesc, slot.data)
	}
	s.desc = newDesc
	s.valueIndices = make(map[string]map[string]map[recordID]struct{})
}

// --- queries ---

// SequenceCursor lists every currently-inserted record exactly once per
// cursor (ordering unspecified but stable within one cursor); concurrent
// inserts may or may not appear but are never duplicated.
func (s *IndexedStorage) SequenceCursor() []recordID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recordID, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	return out
}

// ValueQuery returns every record whose field at path equals value (exact
// byte match on the raw field bytes), using the lazily-built value index.
func (s *IndexedStorage) ValueQuery(path string, value []byte) ([]recordID, error) {
	if err := s.requirePlanningRegistration(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.valueIndices[path]
	set := idx[string(value)]
	out := make([]recordID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

// requirePlanningRegistration lazily builds the value index for path the
// first time it is used, in either mode: it checks for the index under the
// reader lock and otherwise builds it through ensureValueIndex, which takes
// the write lock.
func (s *IndexedStorage) requirePlanningRegistration(path string) error {
	s.mu.RLock()
	_, ok := s.valueIndices[path]
	s.mu.RUnlock()
	if ok {
		return nil
	}
	return s.ensureValueIndex(path)
}

// SignalQuery matches records whose field at path equals a constant value
// declared at query construction (the index choice for boolean/enum
// flags); implemented atop the same value-index machinery.
func (s *IndexedStorage) SignalQuery(path string, constant []byte) ([]recordID, error) {
	return s.ValueQuery(path, constant)
}

// IntervalQuery performs an ordered scan ascending or descending on path
// (archetype must be ordered: integer/float/string), with optional
// open/closed bounds expressed as byte-comparable keys.
type IntervalBound struct {
	Value  []byte
	Closed bool
}

func (s *IndexedStorage) IntervalQuery(path string, lower, upper *IntervalBound, descending bool) ([]recordID, error) {
	resolved, err := reflection.ResolveFieldPath(s.desc, []string{path})
	if err != nil {
		return nil, err
	}

	var lowerKey, upperKey string
	if lower != nil {
		lowerKey = orderPreservingKey(lower.Value, resolved.Archetype)
	}
	if upper != nil {
		upperKey = orderPreservingKey(upper.Value, resolved.Archetype)
	}

	s.mu.RLock()
	type entry struct {
		id  recordID
		key string
	}
	entries := make([]entry, 0, len(s.byID))
	for id, slotIdx := range s.byID {
		data := s.slots[slotIdx].data
		raw := data[resolved.Offset : resolved.Offset+resolved.Size]
		key := orderPreservingKey(raw, resolved.Archetype)
		if lower != nil {
			cmp := compareBytes([]byte(key), []byte(lowerKey))
			if cmp < 0 || (cmp == 0 && !lower.Closed) {
				continue
			}
		}
		if upper != nil {
			cmp := compareBytes([]byte(key), []byte(upperKey))
			if cmp > 0 || (cmp == 0 && !upper.Closed) {
				continue
			}
		}
		entries = append(entries, entry{id: id, key: key})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if descending {
			return entries[i].key > entries[j].key
		}
		return entries[i].key < entries[j].key
	})
	out := make([]recordID, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out, nil
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// orderPreservingKey re-encodes a field's native little-endian bytes so
// that plain byte-lexicographic comparison matches numeric order, for the
// archetypes §4.3 names as ordered (integer, float; string is already
// order-preserving as raw bytes and passes through unchanged).
func orderPreservingKey(raw []byte, archetype reflection.Archetype) string {
	switch archetype {
	case reflection.ArchetypeInteger:
		return string(orderedIntBytes(raw))
	case reflection.ArchetypeFloat:
		return string(orderedFloatBytes(raw))
	default:
		return string(raw)
	}
}

// orderedIntBytes reverses little-endian bytes into big-endian and flips
// the sign bit, turning two's-complement ordering (where a negative value's
// high bit makes it compare as "larger" under unsigned byte comparison)
// into a plain unsigned ordering that matches signed numeric order.
func orderedIntBytes(raw []byte) []byte {
	out := reverseBytes(raw)
	if len(out) > 0 {
		out[0] ^= 0x80
	}
	return out
}

// orderedFloatBytes applies the standard IEEE-754 order-preserving
// transform after converting to big-endian: negative values (sign bit set)
// have every bit inverted, positive values have only the sign bit flipped.
func orderedFloatBytes(raw []byte) []byte {
	out := reverseBytes(raw)
	if len(out) == 0 {
		return out
	}
	if out[0]&0x80 != 0 {
		for i := range out {
			out[i] = ^out[i]
		}
	} else {
		out[0] ^= 0x80
	}
	return out
}

func reverseBytes(raw []byte) []byte {
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[len(raw)-1-i] = b
	}
	return out
}
