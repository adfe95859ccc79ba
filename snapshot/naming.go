// Package snapshot implements the on-disk snapshot format: naming and
// directory conventions, the builder that folds a reverse frame stream
// into a deduplicated snapshot, and lookup of the snapshot covering a
// requested frame number.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// Dir is the directory name (relative to a database path) holding
// finalized snapshots.
const Dir = "snapshots"

var nameRE = regexp.MustCompile(`^([0-9a-fA-F-]{36})-(\d+)-(\d+)\.snap$`)

// FormatName renders the canonical snapshot file name.
func FormatName(logID uuid.UUID, start, end uint64) string {
	return fmt.Sprintf("%s-%d-%d.snap", logID.String(), start, end)
}

// ParseName extracts (logID, start, end) from a canonical snapshot file
// name. Ill-formed names return ok=false, never an error — callers
// enumerating a directory must skip these rather than fail.
func ParseName(name string) (logID uuid.UUID, start, end uint64, ok bool) {
	m := nameRE.FindStringSubmatch(name)
	if m == nil {
		return uuid.UUID{}, 0, 0, false
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.UUID{}, 0, 0, false
	}
	start, err = strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return uuid.UUID{}, 0, 0, false
	}
	end, err = strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return uuid.UUID{}, 0, 0, false
	}
	return id, start, end, true
}

// DirPath returns the snapshot directory for a database at dbPath.
func DirPath(dbPath string) string {
	return filepath.Join(dbPath, Dir)
}

// List enumerates the file names directly under the snapshot directory.
// It neither parses nor sorts — callers that need parsed/sorted entries
// do so themselves (see Find and the merger's registry). A missing
// directory yields an empty list, not an error.
func List(dbPath string) ([]string, error) {
	entries, err := os.ReadDir(DirPath(dbPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: listing %s: %w", DirPath(dbPath), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
