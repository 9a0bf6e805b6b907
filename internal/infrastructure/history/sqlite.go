package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

// SQLiteRepository keeps a record of every pipeline run for the admin API.
type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.HistoryRepository = (*SQLiteRepository)(nil)

// Open creates (or reuses) the database file and applies the schema.
func Open(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	repo := &SQLiteRepository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    source_url TEXT NOT NULL,
    mode       TEXT NOT NULL,
    status     TEXT NOT NULL,
    summary    TEXT NOT NULL DEFAULT '',
    error      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_user_created ON runs (user_id, created_at);
`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate runs table: %w", err)
	}
	return nil
}

// SaveRun inserts one finished run.
func (r *SQLiteRepository) SaveRun(ctx context.Context, rec domain.RunRecord) error {
	query, args, err := sq.Insert("runs").
		Columns("id", "user_id", "source_url", "mode", "status", "summary", "error", "created_at").
		Values(rec.ID, rec.UserID, rec.SourceURL, string(rec.Mode), string(rec.Status), rec.Summary, rec.Error, rec.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first, at most limit of them.
func (r *SQLiteRepository) RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := sq.Select("id", "user_id", "source_url", "mode", "status", "summary", "error", "created_at").
		From("runs").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var (
			rec       domain.RunRecord
			mode      string
			status    string
			createdAt time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SourceURL, &mode, &status, &rec.Summary, &rec.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Mode = domain.Mode(mode)
		rec.Status = domain.ResultStatus(status)
		rec.CreatedAt = createdAt
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
