package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Alexandr23/shared-canvas/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT NOT NULL PRIMARY KEY,
	name       TEXT NOT NULL,
	color      TEXT NOT NULL DEFAULT '#000000',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS lines (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	user_id    TEXT NOT NULL,
	color      TEXT NOT NULL,
	points     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS lines_user_created ON lines (user_id, created_at DESC, seq DESC);
`

type SQLite struct {
	db  *sql.DB
	ids *idSource
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	slog.Info("sqlite store ready", "path", path)
	return &SQLite{db: db, ids: newIDSource()}, nil
}

func (s *SQLite) CreateUser(ctx context.Context, name, color string) (domain.User, error) {
	u := domain.User{ID: s.ids.userID(), Name: name, Color: color, CreatedAt: s.ids.now()}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, color, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Color, u.CreatedAt.UnixNano(),
	); err != nil {
		return domain.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (s *SQLite) FindUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, color, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLite) UpdateUserColor(ctx context.Context, id, color string) (domain.User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET color = ? WHERE id = ?`, color, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return s.FindUser(ctx, id)
}

func (s *SQLite) CreateLine(ctx context.Context, userID string, draft domain.LineDraft) (domain.Line, error) {
	points, err := json.Marshal(draft.Points)
	if err != nil {
		return domain.Line{}, fmt.Errorf("failed to encode points: %w", err)
	}
	l := domain.Line{
		ID:        s.ids.lineID(),
		UserID:    userID,
		Color:     draft.Color,
		Points:    draft.Points,
		CreatedAt: s.ids.now(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO lines (id, user_id, color, points, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.Color, string(points), l.CreatedAt.UnixNano(),
	); err != nil {
		return domain.Line{}, fmt.Errorf("failed to insert line: %w", err)
	}
	return l, nil
}

func (s *SQLite) FindLines(ctx context.Context) ([]domain.Line, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, color, points, created_at FROM lines ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	lines := []domain.Line{}
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *SQLite) DeleteLatestLine(ctx context.Context, userID string) (*domain.Line, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT seq, id, user_id, color, points, created_at FROM lines
		 WHERE user_id = ? ORDER BY created_at DESC, seq DESC LIMIT 1`, userID)
	l, err := scanLine(row, &seq)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lines WHERE seq = ?`, seq); err != nil {
		return nil, fmt.Errorf("failed to delete line: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &l, nil
}

func (s *SQLite) DeleteLinesByUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lines WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete lines of %s: %w", userID, err)
	}
	return nil
}

func (s *SQLite) DeleteAllLines(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lines`); err != nil {
		return fmt.Errorf("failed to delete lines: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Color, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

// scanLine reads a line row; extra destinations are scanned before the line columns.
func scanLine(row scanner, extra ...any) (domain.Line, error) {
	var (
		l       domain.Line
		points  string
		created int64
	)
	dest := append(extra, &l.ID, &l.UserID, &l.Color, &points, &created)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Line{}, domain.ErrNotFound
		}
		return domain.Line{}, fmt.Errorf("failed to scan line: %w", err)
	}
	if err := json.Unmarshal([]byte(points), &l.Points); err != nil {
		return domain.Line{}, fmt.Errorf("failed to decode points of %s: %w", l.ID, err)
	}
	l.CreatedAt = time.Unix(0, created).UTC()
	return l, nil
}
