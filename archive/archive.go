// Package archive compresses snapshots displaced by a merge instead of
// discarding them outright, using the same pluggable-algorithm shape the
// wider storage engine uses for page compression.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm compresses and decompresses whole snapshot files.
type Algorithm interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

var registry = map[string]Algorithm{
	"lz4":    lz4Algorithm{},
	"snappy": snappyAlgorithm{},
	"zstd":   zstdAlgorithm{},
}

// Lookup returns the registered Algorithm for a codec name.
func Lookup(name string) (Algorithm, error) {
	algo, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("archive: unknown codec %q", name)
	}
	return algo, nil
}

// Archiver writes a compressed copy of a superseded snapshot file into an
// archive directory. It never removes the source file — callers delete it only
// once the merged snapshot's rename is visible (Non-goal: archival is
// best-effort and never blocks that deletion).
type Archiver struct {
	dir  string
	algo Algorithm
}

// New creates an Archiver writing into dir using the named codec.
func New(dir string, codec string) (*Archiver, error) {
	algo, err := Lookup(codec)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: creating %s: %w", dir, err)
	}
	return &Archiver{dir: dir, algo: algo}, nil
}

// Archive compresses the file at srcPath and writes it into the archive
// directory as "<basename>.<codec>". Returns the archived path.
func (a *Archiver) Archive(srcPath string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("archive: reading %s: %w", srcPath, err)
	}
	compressed, err := a.algo.Compress(data)
	if err != nil {
		return "", fmt.Errorf("archive: compressing %s: %w", srcPath, err)
	}
	dstPath := filepath.Join(a.dir, filepath.Base(srcPath)+"."+a.algo.Name())
	tmp, err := os.CreateTemp(a.dir, ".archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: creating temp file: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: writing %s: %w", dstPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: closing %s: %w", dstPath, err)
	}
	if err := os.Rename(tmp.Name(), dstPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: renaming into place: %w", err)
	}
	return dstPath, nil
}

// Restore decompresses an archived file back to its original bytes.
func (a *Archiver) Restore(archivedPath string) ([]byte, error) {
	data, err := os.ReadFile(archivedPath)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", archivedPath, err)
	}
	return a.algo.Decompress(data)
}

type lz4Algorithm struct{}

func (lz4Algorithm) Name() string { return "lz4" }

func (lz4Algorithm) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Algorithm) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

type snappyAlgorithm struct{}

func (snappyAlgorithm) Name() string { return "snappy" }

func (snappyAlgorithm) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyAlgorithm) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

type zstdAlgorithm struct{}

func (zstdAlgorithm) Name() string { return "zstd" }

func (zstdAlgorithm) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdAlgorithm) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
