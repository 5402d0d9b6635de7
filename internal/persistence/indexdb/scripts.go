package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/scriptstore"
)

// Save implements scriptstore.Store with the same naming rules as the file
// backend.
func (s *SQLiteIndex) Save(ctx context.Context, name string, sc *script.Script, meta scriptstore.Meta) (string, error) {
	content, err := script.Marshal(sc)
	if err != nil {
		return "", err
	}
	now := s.now()
	if name == "" {
		name = scriptstore.GenerateName(meta.Prompt, now)
	}
	name = scriptstore.SanitizeName(name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM scripts WHERE name = ?`, name).Scan(&exists)
	switch {
	case err == nil:
		name = scriptstore.CollisionName(name, now)
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scripts(name,prompt,model,preset,message,content,created_ms) VALUES(?,?,?,?,?,?,?)`,
		name, meta.Prompt, meta.Model, meta.Preset, meta.Message, string(content), now.UnixMilli(),
	); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return name, nil
}

func (s *SQLiteIndex) Load(ctx context.Context, name string) (*script.Script, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM scripts WHERE name = ?`, name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", scriptstore.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	sc, err := script.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("stored script %s: %w", name, err)
	}
	return sc, nil
}

func (s *SQLiteIndex) List(ctx context.Context, limit int) ([]scriptstore.Info, error) {
	q := `SELECT name,created_ms,prompt FROM scripts ORDER BY created_ms DESC, name DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []scriptstore.Info
	for rows.Next() {
		var i scriptstore.Info
		if err := rows.Scan(&i.Name, &i.TimestampMs, &i.Prompt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ scriptstore.Store = (*SQLiteIndex)(nil)
