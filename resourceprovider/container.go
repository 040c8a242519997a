package resourceprovider

import (
	"sync"

	"github.com/google/uuid"
)

// containerTable holds live container payloads, keyed by a uuid id. A
// container is a per-type heterogeneous record (spec: "payload begins at a
// field aligned to the resource struct's alignment"); since a single
// repository indexed storage can only hold one struct type, containers are
// held here rather than in the repository, each tagged with the resource
// type it was decoded as.
type containerTable struct {
	mu      sync.Mutex
	entries map[string]containerEntry
	pending []string // ids scheduled for destruction at the next frame boundary
}

type containerEntry struct {
	typeName string
	payload  []byte
}

func newContainerTable() *containerTable {
	return &containerTable{entries: make(map[string]containerEntry)}
}

// Create interns a freshly decoded payload under a new id.
func (t *containerTable) Create(typeName string, payload []byte) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.entries[id] = containerEntry{typeName: typeName, payload: payload}
	t.mu.Unlock()
	return id
}

// createWithID interns a payload under a caller-chosen id, used by blobs
// whose id is assigned up front when the third-party entry is discovered
// rather than when its bytes are actually loaded.
func (t *containerTable) createWithID(id, typeName string, payload []byte) {
	t.mu.Lock()
	t.entries[id] = containerEntry{typeName: typeName, payload: payload}
	t.mu.Unlock()
}

// Get returns a container's payload, or ok=false if the id is unknown
// (already destroyed, or never created).
func (t *containerTable) Get(id string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.payload, true
}

// ScheduleDestroy defers removal of id until the next DrainPending call,
// per spec.md §4.5's hot-reload/unload grace period: readers holding the
// old id must remain valid until the frame boundary.
func (t *containerTable) ScheduleDestroy(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	t.pending = append(t.pending, id)
	t.mu.Unlock()
}

// DrainPending destroys every container scheduled last tick. Called once per
// Execute, at the start of the frame, so "next frame boundary" destruction
// actually happens one tick after it was scheduled.
func (t *containerTable) DrainPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.pending {
		delete(t.entries, id)
	}
	t.pending = t.pending[:0]
}
