package watch

import "errors"

var (
	// ErrClosed names use of a closed watcher; no function in this package
	// returns it (a second Close returns nil).
	ErrClosed = errors.New("watch: watcher closed")
)
