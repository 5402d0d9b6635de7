package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/geom"
	plog "structurecraft.ai/internal/persistence/log"
	"structurecraft.ai/internal/persistence/snapshot"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/voxel"
)

type options struct {
	DataDir  string
	Snapshot string
	Verify   string
	WorldID  string
	Catalog  string
}

type result struct {
	Files   int
	Applied int
	Skipped int
	Voxels  int
	Digest  string
}

func main() {
	var opts options
	flag.StringVar(&opts.DataDir, "data", "./p2s_data", "data directory holding audit/audit-*.jsonl.zst")
	flag.StringVar(&opts.Snapshot, "snapshot", "", "start from this snapshot; audit records older than it are skipped (optional)")
	flag.StringVar(&opts.Verify, "verify", "", "compare the replayed world against this snapshot (optional)")
	flag.StringVar(&opts.WorldID, "world", "", "only replay records of this world id (optional)")
	flag.StringVar(&opts.Catalog, "catalog", "", "block catalog json (default: built-in)")
	flag.Parse()

	res, err := replay(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: files=%d applied=%d skipped=%d voxels=%d digest=%s\n",
		res.Files, res.Applied, res.Skipped, res.Voxels, res.Digest)
}

func replay(opts options) (result, error) {
	var res result
	cat := catalogs.Default()
	if opts.Catalog != "" {
		var err error
		if cat, err = catalogs.Load(opts.Catalog); err != nil {
			return res, err
		}
	}
	id := opts.WorldID
	if id == "" {
		id = "replay"
	}
	w, err := voxel.New(id, cat, nil)
	if err != nil {
		return res, err
	}

	var since int64
	if opts.Snapshot != "" {
		snap, err := snapshot.ReadSnapshot(opts.Snapshot)
		if err != nil {
			return res, fmt.Errorf("read snapshot: %w", err)
		}
		if err := w.Import(snap); err != nil {
			return res, fmt.Errorf("import snapshot: %w", err)
		}
		since = snap.Header.CreatedAtMs
	}

	files, err := plog.Files(filepath.Join(opts.DataDir, "audit"), "audit")
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no audit files found in %s", filepath.Join(opts.DataDir, "audit"))
	}
	res.Files = len(files)

	for _, path := range files {
		err := plog.ReadJSONL(path, func(line json.RawMessage) error {
			var rec plog.AuditRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if (opts.WorldID != "" && rec.WorldID != opts.WorldID) || rec.TimeMs <= since {
				res.Skipped++
				return nil
			}
			def, ok := cat.Get(rec.Entry.To)
			if !ok {
				return fmt.Errorf("%s: block %q not in catalog", filepath.Base(path), rec.Entry.To)
			}
			facing, _ := script.ParseDirection(rec.Entry.Facing)
			p := rec.Entry.Pos
			w.SetBlock(geom.V(p[0], p[1], p[2]), def, facing)
			res.Applied++
			return nil
		})
		if err != nil {
			return res, err
		}
	}
	res.Voxels = w.Count()
	res.Digest = w.Digest()

	if opts.Verify != "" {
		target, err := snapshot.ReadSnapshot(opts.Verify)
		if err != nil {
			return res, fmt.Errorf("read verify snapshot: %w", err)
		}
		tw, err := voxel.New(id, cat, nil)
		if err != nil {
			return res, err
		}
		if err := tw.Import(target); err != nil {
			return res, fmt.Errorf("import verify snapshot: %w", err)
		}
		if got := tw.Digest(); got != res.Digest {
			return res, fmt.Errorf("digest mismatch: replayed=%s snapshot=%s", res.Digest, got)
		}
	}
	return res, nil
}
