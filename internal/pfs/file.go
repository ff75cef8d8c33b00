// Package pfs models the parallel file system every BB node drains into
// and every writer falls back to directly when the coordinator rejects its
// probe. A checkpoint stream is written incrementally as chunks drain off
// the ring buffer, with no single "commit" point, so this package opens
// every drain file in pure append mode rather than staging into a temp
// file and renaming it into place.
package pfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/burstbuffer/cdbb/internal/transport"
)

// DrainPath returns the file a BB node (or a writer bypassing the buffer
// entirely) appends its data to under root, one file per origin rank so
// concurrent drains never interleave within a file.
func DrainPath(root string, rank transport.Rank) string {
	return filepath.Join(root, fmt.Sprintf("rank-%d.pfs", int32(rank)))
}

// OpenAppend ensures root exists and returns the append-mode, create-if-
// missing file handle for rank's drain path. Callers are responsible for
// closing it.
func OpenAppend(root string, rank transport.Rank) (*os.File, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("pfs: creating drain root %q: %w", root, err)
	}
	path := DrainPath(root, rank)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("pfs: opening drain file %q: %w", path, err)
	}
	return f, nil
}
