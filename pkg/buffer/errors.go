package buffer

import "errors"

// Sentinel errors surfaced across the buffer's package boundary.
var (
	// ErrStorageFull is returned by Append when the underlying disk is out
	// of space. Fatal to the process.
	ErrStorageFull = errors.New("buffer: storage full")

	// ErrStorageCorrupt is returned by New when the embedded database fails
	// to open or its schema migration fails. Fatal. Errors from later reads
	// are returned wrapped, not as ErrStorageCorrupt.
	ErrStorageCorrupt = errors.New("buffer: storage corrupt")

	// ErrStationNotFound is returned by GetCurrentStation when no station
	// has ever been selected.
	ErrStationNotFound = errors.New("buffer: no station selected")
)
