package compaction

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ubersan/libsql/faults"
	"github.com/ubersan/libsql/snapshot"
)

type reconcileEntry struct {
	name  string
	start uint64
	end   uint64
}

// Reconcile sweeps the snapshot directory at startup, removing any
// snapshot whose frame range is a proper subset of another surviving
// snapshot's range. This resolves the crash-recovery scenario where a
// merge's output was made visible but the process died before its input
// snapshots were removed: both coexist, and the subsumed ones are dead
// weight. Snapshots with identical ranges are left untouched and logged,
// since which one is newer cannot be determined without an mtime
// dependency this package does not otherwise take on.
func Reconcile(dbPath string, logger *zap.Logger) (removed []string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names, err := snapshot.List(dbPath)
	if err != nil {
		return nil, fmt.Errorf("compaction: reconcile: %w", err)
	}

	entries := make([]reconcileEntry, 0, len(names))
	for _, name := range names {
		_, start, end, ok := snapshot.ParseName(name)
		if !ok {
			logger.Warn("skipping malformed snapshot name during reconcile", zap.String("name", name))
			continue
		}
		entries = append(entries, reconcileEntry{name: name, start: start, end: end})
	}

	subsumed := make(map[string]bool)
	for _, a := range entries {
		for _, b := range entries {
			if a.name == b.name {
				continue
			}
			if a.start == b.start && a.end == b.end {
				// identical ranges: ambiguous, leave both
				if a.name < b.name {
					logger.Warn("reconcile left snapshots with identical ranges",
						zap.String("name", a.name), zap.String("other", b.name))
				}
				continue
			}
			if b.start <= a.start && a.end <= b.end {
				subsumed[a.name] = true
			}
		}
	}

	for name := range subsumed {
		path := filepath.Join(snapshot.DirPath(dbPath), name)
		if err := os.Remove(path); err != nil {
			return removed, faults.New(faults.KindTransientIO, "reconcile.remove", err)
		}
		logger.Info("reconcile removed subsumed snapshot", zap.String("name", name))
		removed = append(removed, name)
	}
	return removed, nil
}
