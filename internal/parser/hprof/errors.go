package hprof

import "errors"

var (
	// ErrInvalidFormat reports unrecoverable structural problems in the dump:
	// bad magic, unknown heap sub-tag, unknown basic type, overflowing record
	// length. The parse aborts; no partial result is returned.
	ErrInvalidFormat = errors.New("invalid hprof format")

	// ErrClosed is returned by queries against a closed HeapDump.
	ErrClosed = errors.New("heap dump is closed")

	// errIndexCorrupt marks an unusable on-disk index. It never reaches
	// callers: the open path catches it and rebuilds.
	errIndexCorrupt = errors.New("object index corrupt")
)
