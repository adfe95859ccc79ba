package compaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ubersan/libsql/archive"
	"github.com/ubersan/libsql/config"
	"github.com/ubersan/libsql/faults"
	"github.com/ubersan/libsql/snapshot"
)

type snapshotInfo struct {
	name       string
	frameCount uint64
}

type registration struct {
	name             string
	frameCount       uint64
	dbPageCountAfter uint64
}

type mergeResult struct {
	info snapshotInfo
	err  error
}

// Merger is the background worker that coalesces snapshots once the
// space-amplification or count threshold is crossed.
type Merger struct {
	dbPath   string
	logID    uuid.UUID
	cfg      *config.Config
	logger   *zap.Logger
	archiver *archive.Archiver

	ch   chan registration
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	workErr error
}

// NewMerger scans the snapshot directory to build the initial registry
// and starts the worker goroutine.
func NewMerger(dbPath string, logID uuid.UUID, cfg *config.Config, logger *zap.Logger) (*Merger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := Reconcile(dbPath, logger); err != nil {
		return nil, fmt.Errorf("compaction: reconciling snapshots at startup: %w", err)
	}
	registry, err := buildRegistry(dbPath)
	if err != nil {
		return nil, err
	}

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.New(filepath.Join(dbPath, cfg.Archive.Dir), cfg.Archive.Codec)
		if err != nil {
			return nil, fmt.Errorf("compaction: setting up archiver: %w", err)
		}
	}

	m := &Merger{
		dbPath:   dbPath,
		logID:    logID,
		cfg:      cfg,
		logger:   logger,
		archiver: archiver,
		ch:       make(chan registration, cfg.MergerChannelCapacity),
		done:     make(chan struct{}),
	}
	go m.run(registry)
	return m, nil
}

func buildRegistry(dbPath string) ([]snapshotInfo, error) {
	names, err := snapshot.List(dbPath)
	if err != nil {
		return nil, fmt.Errorf("compaction: building registry: %w", err)
	}
	type parsed struct {
		name  string
		start uint64
	}
	var infos []parsed
	registry := make(map[string]uint64, len(names))
	for _, name := range names {
		_, start, _, ok := snapshot.ParseName(name)
		if !ok {
			continue // malformed name: skip, never fatal
		}
		reader, err := snapshot.OpenReader(filepath.Join(snapshot.DirPath(dbPath), name))
		if err != nil {
			return nil, faults.New(faults.KindTransientIO, "merger.build_registry", err)
		}
		frameCount := reader.Header().FrameCount
		reader.Close()
		infos = append(infos, parsed{name: name, start: start})
		registry[name] = frameCount
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].start < infos[j].start })

	out := make([]snapshotInfo, len(infos))
	for i, p := range infos {
		out[i] = snapshotInfo{name: p.name, frameCount: registry[p.name]}
	}
	return out, nil
}

// Register submits a newly compacted snapshot to the merger, blocking
// until the worker accepts it (the channel holds cfg.MergerChannelCapacity
// registrations, 1 by default). Callers must
// not invoke Register concurrently with Close.
func (m *Merger) Register(ctx context.Context, name string, frameCount uint64, dbPageCountAfter uint64) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return faults.New(faults.KindMergerExited, "merger.register", m.exitErr())
	}
	select {
	case m.ch <- registration{name: name, frameCount: frameCount, dbPageCountAfter: dbPageCountAfter}:
		return nil
	case <-m.done:
		return faults.New(faults.KindMergerExited, "merger.register", m.exitErr())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting registrations and waits for the worker to exit,
// returning its terminal error if it failed. Closing m.ch, rather than a
// separate flag, is what stops Register's select from blocking forever;
// the closed flag set here is what keeps a later Register call from
// reaching that select and sending on the now-closed channel.
func (m *Merger) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	close(m.ch)
	<-m.done
	return m.exitErr()
}

func (m *Merger) exitErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workErr
}

func (m *Merger) run(registry []snapshotInfo) {
	defer close(m.done)
	ctx := context.Background()

	var jobResult chan mergeResult
	for {
		select {
		case reg, ok := <-m.ch:
			if !ok {
				if jobResult != nil {
					res := <-jobResult
					if res.err != nil {
						m.fail(res.err)
					}
				}
				return
			}
			registry = append(registry, snapshotInfo{name: reg.name, frameCount: reg.frameCount})
			if jobResult == nil && shouldCompact(registry, reg.dbPageCountAfter, m.cfg) {
				batch := registry
				registry = nil
				jobResult = make(chan mergeResult, 1)
				go m.mergeAsync(ctx, batch, jobResult)
			}

		case res := <-jobResult:
			jobResult = nil
			if res.err != nil {
				m.fail(res.err)
				return
			}
			merged := make([]snapshotInfo, 0, len(registry)+1)
			merged = append(merged, res.info)
			merged = append(merged, registry...)
			registry = merged
		}
	}
}

func (m *Merger) fail(err error) {
	m.mu.Lock()
	m.closed = true
	m.workErr = err
	m.mu.Unlock()
	m.logger.Error("merger worker exiting", zap.Error(err))
}

// shouldCompact reports whether the registry has crossed the space
// amplification or count threshold (P10).
func shouldCompact(registry []snapshotInfo, dbPageCount uint64, cfg *config.Config) bool {
	var sum uint64
	for _, s := range registry {
		sum += s.frameCount
	}
	return sum >= cfg.AmplificationFactor*dbPageCount || len(registry) > cfg.MaxSnapshotCount
}

func (m *Merger) mergeAsync(ctx context.Context, batch []snapshotInfo, out chan<- mergeResult) {
	info, err := m.mergeSnapshots(ctx, batch)
	out <- mergeResult{info: info, err: err}
}

// mergeSnapshots coalesces batch (ascending start_frame_no order) into a
// single snapshot, consuming newest-first so the builder's global
// frame_no monotonicity assertion holds.
func (m *Merger) mergeSnapshots(ctx context.Context, batch []snapshotInfo) (snapshotInfo, error) {
	if len(batch) == 0 {
		return snapshotInfo{}, nil
	}
	builder, err := snapshot.NewBuilder(m.dbPath, m.logID)
	if err != nil {
		return snapshotInfo{}, faults.New(faults.KindTransientIO, "merger.new_builder", err)
	}

	var newestSizeAfter uint32
	for i := len(batch) - 1; i >= 0; i-- {
		path := filepath.Join(snapshot.DirPath(m.dbPath), batch[i].name)
		reader, err := snapshot.OpenReader(path)
		if err != nil {
			return snapshotInfo{}, faults.New(faults.KindTransientIO, "merger.open_input", err)
		}
		if i == len(batch)-1 {
			newestSizeAfter = reader.Header().SizeAfter
		}
		frames, err := reader.Frames(ctx)
		if err != nil {
			reader.Close()
			return snapshotInfo{}, faults.New(faults.KindTransientIO, "merger.read_input", err)
		}
		appendErr := builder.AppendFrames(ctx, frames)
		reader.Close()
		if appendErr != nil {
			if errors.Is(appendErr, snapshot.ErrOrderingViolation) {
				return snapshotInfo{}, faults.New(faults.KindOrderingViolation, "merger.append_frames", appendErr)
			}
			return snapshotInfo{}, faults.New(faults.KindTransientIO, "merger.append_frames", appendErr)
		}
	}

	_, start, _, ok := snapshot.ParseName(batch[0].name)
	if !ok {
		return snapshotInfo{}, faults.New(faults.KindMalformedName, "merger.parse_oldest", fmt.Errorf("%s", batch[0].name))
	}
	_, _, end, ok := snapshot.ParseName(batch[len(batch)-1].name)
	if !ok {
		return snapshotInfo{}, faults.New(faults.KindMalformedName, "merger.parse_newest", fmt.Errorf("%s", batch[len(batch)-1].name))
	}

	// The overriding start/end/size_after must be set before the header
	// is written, not mutated afterward: finish() already performs the
	// rename, so anything set post hoc would be a no-op on disk.
	name, frameCount, _, err := builder.Finish(&start, &end, &newestSizeAfter)
	if err != nil {
		return snapshotInfo{}, faults.New(faults.KindTransientIO, "merger.finish", err)
	}

	for _, s := range batch {
		path := filepath.Join(snapshot.DirPath(m.dbPath), s.name)
		if m.archiver != nil {
			if _, archErr := m.archiver.Archive(path); archErr != nil {
				m.logger.Warn("archiving superseded snapshot failed", zap.String("path", path), zap.Error(archErr))
			}
		}
		if err := os.Remove(path); err != nil {
			m.logger.Warn("removing superseded snapshot failed", zap.String("path", path), zap.Error(err))
		}
	}

	return snapshotInfo{name: name, frameCount: frameCount}, nil
}
