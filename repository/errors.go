package repository

import "errors"

var (
	// ErrUnknownType is returned when a storage/query is requested for a
	// type name the reflection registry has no description for.
	ErrUnknownType = errors.New("repository: unknown type")
	// ErrAccessConflict is returned (as a log, not a panic) when a caller
	// tries to acquire an access that would violate the single-writer /
	// multi-reader invariant. Resolve on the returned access yields nil.
	ErrAccessConflict = errors.New("repository: access conflict")
	// ErrWrongMode is returned when an operation legal only in one of
	// planning/serving mode is attempted in the other.
	ErrWrongMode = errors.New("repository: operation not legal in current mode")
	// ErrStaleHandle is returned when an indexed-record id no longer
	// resolves to a live record (the record was deleted or its slot reused).
	ErrStaleHandle = errors.New("repository: stale handle (repository migrated)")
	// ErrStorageDestroyed names the condition of a storage whose owning
	// repository has been destroyed; no function in this package returns it.
	ErrStorageDestroyed = errors.New("repository: storage destroyed")
	// ErrNoSubscribers names the case of an event storage with no fetch
	// query. It is not returned: BeginInsert elides such an insertion by
	// returning a nil package and a nil error.
	ErrNoSubscribers = errors.New("repository: event storage has no subscribers")
	// ErrCycleInCascadeDeletion names a cascade-deletion chain that
	// re-enters the same storage. It is not returned: cascade deletion
	// skips records it has already visited in the same delete.
	ErrCycleInCascadeDeletion = errors.New("repository: cascade deletion cycle detected")
)
