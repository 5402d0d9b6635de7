package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"structurecraft.ai/internal/catalogs"
)

// SQLiteIndex is a SQLite script store plus an asynchronous build history.
// Store calls run synchronously; RecordBuild and RecordSnapshot are queued
// to a single writer goroutine and dropped when the queue is full.
type SQLiteIndex struct {
	db  *sql.DB
	now func() time.Time

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropBuild    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqBuild reqKind = iota + 1
	reqSnapshot
	reqBarrier
)

type req struct {
	kind reqKind

	build    BuildRow
	snapshot SnapshotRow
	done     chan struct{}
}

// BuildRow is one executed build.
type BuildRow struct {
	BuildID     string `json:"build_id"`
	Name        string `json:"name,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Origin      [3]int `json:"origin"`
	Rotation    int    `json:"rotation"`
	Layers      int    `json:"layers"`
	Actions     int    `json:"actions"`
	Skipped     int    `json:"skipped"`
	Writes      int64  `json:"writes"`
	Diagnostics int    `json:"diagnostics"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	StartedMs   int64  `json:"started_ms"`
	DurationMs  int64  `json:"duration_ms"`
}

type SnapshotRow struct {
	Path          string `json:"path"`
	WorldID       string `json:"world_id"`
	Chunks        int    `json:"chunks"`
	CatalogDigest string `json:"catalog_digest"`
	CreatedMs     int64  `json:"created_ms"`
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropBuildTotal    uint64 `json:"drop_build_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		now: time.Now,
		ch:  make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS scripts (
			name TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL,
			preset TEXT NOT NULL,
			message TEXT NOT NULL,
			content TEXT NOT NULL,
			created_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scripts_created ON scripts(created_ms);`,
		`CREATE TABLE IF NOT EXISTS builds (
			build_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			prompt TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			rotation INTEGER NOT NULL,
			layers INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			writes INTEGER NOT NULL,
			diagnostics INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_name ON builds(name);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL,
			created_ms INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordBuild queues a build row. The JSONL event log stays the source of
// truth, so a full queue drops the row.
func (s *SQLiteIndex) RecordBuild(row BuildRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqBuild, build: row}:
	default:
		s.dropBuild.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(row SnapshotRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: row}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Flush waits until every queued row before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqBarrier, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropBuildTotal:    s.dropBuild.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// UpsertCatalog records the block catalog the index was written against.
func (s *SQLiteIndex) UpsertCatalog(ctx context.Context, cat *catalogs.BlockCatalog) error {
	if s == nil || cat == nil {
		return nil
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	palette, err := json.Marshal(cat.Palette)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"blocks_palette", cat.PaletteDigest, string(palette), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Builds(ctx context.Context, limit int) ([]BuildRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT build_id,name,prompt,x,y,z,rotation,layers,actions,skipped,writes,diagnostics,status,COALESCE(error,''),started_ms,duration_ms
		FROM builds ORDER BY started_ms DESC, build_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BuildRow
	for rows.Next() {
		var b BuildRow
		if err := rows.Scan(&b.BuildID, &b.Name, &b.Prompt, &b.Origin[0], &b.Origin[1], &b.Origin[2], &b.Rotation,
			&b.Layers, &b.Actions, &b.Skipped, &b.Writes, &b.Diagnostics, &b.Status, &b.Error, &b.StartedMs, &b.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Snapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path,world_id,chunks,catalog_digest,created_ms FROM snapshots ORDER BY created_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.Path, &r.WorldID, &r.Chunks, &r.CatalogDigest, &r.CreatedMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertBuild, _ := s.db.Prepare(`INSERT OR REPLACE INTO builds(build_id,name,prompt,x,y,z,rotation,layers,actions,skipped,writes,diagnostics,status,error,started_ms,duration_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,world_id,chunks,catalog_digest,created_ms) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertBuild != nil {
			_ = insertBuild.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 500
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		if r.kind == reqBarrier {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqBuild:
			b := r.build
			if insertBuild != nil {
				var errText any
				if b.Error != "" {
					errText = b.Error
				}
				if _, err := tx.Stmt(insertBuild).Exec(
					b.BuildID, b.Name, b.Prompt,
					b.Origin[0], b.Origin[1], b.Origin[2],
					b.Rotation, b.Layers, b.Actions, b.Skipped, b.Writes, b.Diagnostics,
					b.Status, errText, b.StartedMs, b.DurationMs,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.Path, sn.WorldID, sn.Chunks, sn.CatalogDigest, sn.CreatedMs); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// Store calls share the single connection; release it once the queue drains.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
