package resourceprovider

import "errors"

var (
	// ErrUnknownResourceType names a scanned file whose type header names a
	// struct the registry does not describe; no function in this package
	// returns it.
	ErrUnknownResourceType = errors.New("resourceprovider: unknown resource type")
	// ErrMissingResource names a usage record that matches no generic
	// entry; no function in this package returns it (such a record is
	// ignored).
	ErrMissingResource = errors.New("resourceprovider: missing resource")
	// ErrDeserialization names a resource file that fails to parse into its
	// declared struct layout. It is not returned: a failed load is reported
	// through a load-failed event.
	ErrDeserialization = errors.New("resourceprovider: deserialization failed")
	// ErrUnknownContainer names a container id with no entry in the live
	// container table; no function in this package returns it (lookups
	// report ok=false instead).
	ErrUnknownContainer = errors.New("resourceprovider: unknown container")
	// ErrUnknownBlob is returned when a third-party blob id has no entry
	// in the live blob table.
	ErrUnknownBlob = errors.New("resourceprovider: unknown third-party blob")
)
