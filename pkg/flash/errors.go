package flash

import "errors"

var (
	// ErrCapacityExhausted indicates the log reached its maximum size.
	ErrCapacityExhausted = errors.New("flash capacity exhausted")
	// ErrNoSuchFile indicates a file number outside the index.
	ErrNoSuchFile = errors.New("no such file")
	// ErrNoOpenFile indicates an append without an active file.
	ErrNoOpenFile = errors.New("no open file")
	// ErrNotInitialized indicates the device was used before Init.
	ErrNotInitialized = errors.New("device not initialized")
)
