package main

import (
	"path/filepath"
	"strings"
	"testing"

	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/geom"
	plog "structurecraft.ai/internal/persistence/log"
	"structurecraft.ai/internal/persistence/snapshot"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/voxel"
)

// record builds a world with an audit log under dir and returns it.
func record(t *testing.T, dir string) *voxel.World {
	t.Helper()
	cat := catalogs.Default()
	w, err := voxel.New("w1", cat, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	audit := plog.NewAuditLogger(dir)
	w.SetAuditor(audit.Auditor("w1", func(err error) { t.Errorf("audit: %v", err) }))

	stone, _ := cat.Get("minecraft:stone")
	stairs, _ := cat.Get("minecraft:oak_stairs")
	air, _ := cat.Get(catalogs.AirID)
	for x := 0; x < 3; x++ {
		w.SetBlock(geom.V(x, 0, 0), stone, script.DirNone)
	}
	w.SetBlock(geom.V(0, 1, 0), stairs, script.DirEast)
	w.SetBlock(geom.V(1, 0, 0), air, script.DirNone)
	if err := audit.Close(); err != nil {
		t.Fatalf("close audit: %v", err)
	}
	return w
}

func TestReplay_MatchesSnapshot(t *testing.T) {
	dir := t.TempDir()
	w := record(t, dir)
	target := filepath.Join(dir, "world.snap.zst")
	if err := snapshot.WriteSnapshot(target, w.Export()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	res, err := replay(options{DataDir: dir, Verify: target, WorldID: "w1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Applied != 5 || res.Voxels != 3 || res.Digest != w.Digest() {
		t.Fatalf("res=%+v want digest %s", res, w.Digest())
	}
}

func TestReplay_OtherWorldIsSkipped(t *testing.T) {
	dir := t.TempDir()
	record(t, dir)
	res, err := replay(options{DataDir: dir, WorldID: "w2"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 5 || res.Voxels != 0 {
		t.Fatalf("res=%+v", res)
	}
}

func TestReplay_DetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	record(t, dir)

	cat := catalogs.Default()
	other, _ := voxel.New("w1", cat, nil)
	glass, _ := cat.Get("minecraft:glass")
	other.SetBlock(geom.V(9, 9, 9), glass, script.DirNone)
	target := filepath.Join(dir, "other.snap.zst")
	if err := snapshot.WriteSnapshot(target, other.Export()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	_, err := replay(options{DataDir: dir, Verify: target})
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("err=%v", err)
	}
}

func TestReplay_NoAuditFiles(t *testing.T) {
	if _, err := replay(options{DataDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error")
	}
}
