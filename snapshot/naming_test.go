package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestFormatAndParseNameRoundTrip(t *testing.T) {
	id := uuid.New()
	name := FormatName(id, 10, 99)

	gotID, start, end, ok := ParseName(name)
	if !ok {
		t.Fatalf("ParseName(%q) failed", name)
	}
	if gotID != id || start != 10 || end != 99 {
		t.Fatalf("ParseName(%q) = (%v, %d, %d), want (%v, 10, 99)", name, gotID, start, end, id)
	}
}

func TestParseNameMalformed(t *testing.T) {
	cases := []string{
		"not-a-snapshot.snap",
		"garbage",
		uuid.New().String() + "-10.snap",
		uuid.New().String() + "-abc-99.snap",
	}
	for _, name := range cases {
		if _, _, _, ok := ParseName(name); ok {
			t.Errorf("ParseName(%q) = ok, want not ok", name)
		}
	}
}

func TestListMissingDir(t *testing.T) {
	dir := t.TempDir()
	names, err := List(filepath.Join(dir, "does-not-exist"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if names != nil {
		t.Fatalf("names = %v, want nil", names)
	}
}

func TestListSkipsDirs(t *testing.T) {
	dbPath := t.TempDir()
	snapDir := DirPath(dbPath)
	if err := os.MkdirAll(filepath.Join(snapDir, "subdir"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	name := FormatName(uuid.New(), 1, 2)
	if err := os.WriteFile(filepath.Join(snapDir, name), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	names, err := List(dbPath)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != name {
		t.Fatalf("names = %v, want [%s]", names, name)
	}
}
