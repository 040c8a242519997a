package repository

import (
	"container/list"
	"sync"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// EventStorage holds a FIFO queue of event records of one struct type,
// owned by the nearest repository that opened it. Single-threaded
// operations (queue submission and oldest-cleanup) are serialised by a
// per-storage mutex.
type EventStorage struct {
	mu       sync.Mutex
	repo     *Repository
	desc     *reflection.StructDescription
	queue    *list.List // of []byte
	fetchers int        // live FetchQuery count across the tree
	refs     int        // inherited-reference count, released on Destroy
}

func newEventStorage(repo *Repository, desc *reflection.StructDescription) *EventStorage {
	return &EventStorage{repo: repo, desc: desc, queue: list.New(), refs: 1}
}

func (s *EventStorage) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
}

// InsertionPackage is the "begin / populate / submit-or-undo" scope guard
// for event insertion. Dropping it without Submit is equivalent to Undo.
type InsertionPackage struct {
	storage   *EventStorage
	data      []byte
	finalized bool
}

// Data exposes the zero-initialised event record for the caller to
// populate before Submit.
func (p *InsertionPackage) Data() []byte { return p.data }

// Submit commits the populated record into the event queue.
func (p *InsertionPackage) Submit() error {
	if p == nil || p.finalized {
		return nil
	}
	p.finalized = true
	p.storage.mu.Lock()
	p.storage.queue.PushBack(p.data)
	p.storage.mu.Unlock()
	return nil
}

// Undo discards the package without committing it.
func (p *InsertionPackage) Undo() {
	if p == nil {
		return
	}
	p.finalized = true
}

// BeginInsert begins an event insertion. Per spec §4.2's error model,
// insertion into an event storage with no live fetch queries returns a nil
// package and performs no allocation (event production is elided).
func (s *EventStorage) BeginInsert() (*InsertionPackage, error) {
	s.mu.Lock()
	fetchers := s.fetchers
	s.mu.Unlock()
	if fetchers == 0 {
		return nil, nil
	}
	return &InsertionPackage{storage: s, data: s.desc.NewZeroed()}, nil
}

// FetchQuery iterates events oldest-first, consuming them as they are read.
type FetchQuery struct {
	storage *EventStorage
}

// NewFetchQuery registers a fetch query against the event storage,
// enabling future insertions (previously elided) to actually queue.
func (s *EventStorage) NewFetchQuery() *FetchQuery {
	s.mu.Lock()
	s.fetchers++
	s.mu.Unlock()
	return &FetchQuery{storage: s}
}

// Close unregisters the fetch query.
func (q *FetchQuery) Close() {
	if q == nil || q.storage == nil {
		return
	}
	q.storage.mu.Lock()
	q.storage.fetchers--
	q.storage.mu.Unlock()
	q.storage = nil
}

// Next pops and returns the oldest queued event, or ok=false if empty.
func (q *FetchQuery) Next() (data []byte, ok bool) {
	s := q.storage
	s.mu.Lock()
	defer s.mu.Unlock()
	front := s.queue.Front()
	if front == nil {
		return nil, false
	}
	s.queue.Remove(front)
	return front.Value.([]byte), true
}

// Len reports the number of queued, unread events.
func (s *EventStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
