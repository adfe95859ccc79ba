package snapshot

import (
	"fmt"
	"path/filepath"
)

// Located describes a snapshot file found to cover a requested frame.
type Located struct {
	Name         string
	Path         string
	StartFrameNo uint64
	EndFrameNo   uint64
}

// Find enumerates the snapshot directory and returns the snapshot whose
// [start, end] range contains frameNo. Enumeration order is unspecified;
// ranges are non-overlapping so at most one match exists. Returns
// (nil, nil) if no snapshot covers frameNo or the directory is missing.
func Find(dbPath string, frameNo uint64) (*Located, error) {
	names, err := List(dbPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot: find: %w", err)
	}
	for _, name := range names {
		_, start, end, ok := ParseName(name)
		if !ok {
			continue
		}
		if frameNo >= start && frameNo <= end {
			return &Located{
				Name:         name,
				Path:         filepath.Join(DirPath(dbPath), name),
				StartFrameNo: start,
				EndFrameNo:   end,
			}, nil
		}
	}
	return nil, nil
}
