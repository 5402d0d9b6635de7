package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"structurecraft.ai/internal/persistence/snapshot"
)

func TestArchiveSnapshot_CopiesWithMeta(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "world.snap.zst")
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.WorldV1{
		Header: snapshot.Header{Version: 1, WorldID: "w1", CatalogDigest: "abc"},
		Chunks: make([]snapshot.ChunkV1, 2),
		Writes: 7,
	}
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	archived, metaPath, err := ArchiveSnapshot(dir, src, snap, now)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if want := filepath.Join(dir, "archives", "20260304", "050607.snap.zst"); archived != want {
		t.Fatalf("archived=%s want %s", archived, want)
	}

	got, err := os.ReadFile(archived)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.WorldID != "w1" || meta.Chunks != 2 || meta.Writes != 7 || meta.Snapshot != "050607.snap.zst" {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestArchiveSnapshot_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := ArchiveSnapshot(dir, filepath.Join(dir, "nope.snap.zst"), snapshot.WorldV1{}, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}
