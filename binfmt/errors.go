package binfmt

import "errors"

var (
	// ErrTypeMismatch is returned when a binary stream's header names a
	// type different from the one the reader was asked to decode.
	ErrTypeMismatch = errors.New("binfmt: type mismatch")
	// ErrTruncated is returned when the stream ends before a declared
	// chunk length is satisfied.
	ErrTruncated = errors.New("binfmt: truncated stream")
	// ErrUnknownType is returned when the registry has no description for
	// the header's type name.
	ErrUnknownType = errors.New("binfmt: unknown type")
)
