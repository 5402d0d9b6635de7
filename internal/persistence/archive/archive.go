// Package archive keeps timestamped copies of world snapshots next to a small
// JSON description of each.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"structurecraft.ai/internal/persistence/snapshot"
)

type Meta struct {
	WorldID       string `json:"world_id"`
	Snapshot      string `json:"snapshot"`
	CatalogDigest string `json:"catalog_digest"`
	Chunks        int    `json:"chunks"`
	Writes        uint64 `json:"writes"`
	CreatedAt     string `json:"created_at"`
}

// ArchiveSnapshot copies snapshotPath to
// `dataDir/archives/<YYYYMMDD>/<HHMMSS>.snap.zst` and writes the matching
// `<HHMMSS>.meta.json`. It returns both paths.
func ArchiveSnapshot(dataDir, snapshotPath string, snap snapshot.WorldV1, now time.Time) (archived, metaPath string, err error) {
	now = now.UTC()
	dir := filepath.Join(dataDir, "archives", now.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	stamp := now.Format("150405")
	archived = filepath.Join(dir, stamp+".snap.zst")
	if err := copyFile(snapshotPath, archived); err != nil {
		return "", "", fmt.Errorf("archive %s: %w", filepath.Base(snapshotPath), err)
	}

	meta := Meta{
		WorldID:       snap.Header.WorldID,
		Snapshot:      filepath.Base(archived),
		CatalogDigest: snap.Header.CatalogDigest,
		Chunks:        len(snap.Chunks),
		Writes:        snap.Writes,
		CreatedAt:     now.Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return archived, "", err
	}
	metaPath = filepath.Join(dir, stamp+".meta.json")
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return archived, "", err
	}
	return archived, metaPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
