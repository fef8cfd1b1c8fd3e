// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aovault/aovault/internal/vault"
)

const uniqueViolation = "23505"

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists works, chapters and health checks in Postgres.
type Store struct {
	pool pool
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const workColumns = `id, owner_id, source, source_id, source_url, title, author, author_url,
	rating, warnings, fandoms, ships, characters, categories, tags, summary, language,
	word_count, chapter_count, chapter_total, status, published_at, updated_at,
	archive_path, last_checked_at, date_added`

// CreateWork inserts a work; a unique violation on
// (owner_id, source, source_id) maps to vault.ErrDuplicate.
func (s *Store) CreateWork(ctx context.Context, w vault.Work) (vault.Work, error) {
	query := `
INSERT INTO works (
	owner_id, source, source_id, source_url, title, author, author_url,
	rating, warnings, fandoms, ships, characters, categories, tags, summary, language,
	word_count, chapter_count, chapter_total, status, published_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
	$17, $18, $19, $20, $21, $22
) RETURNING id, date_added`
	err := s.pool.QueryRow(ctx, query,
		w.OwnerID, w.Source, w.SourceID, w.SourceURL, w.Title, w.Author, w.AuthorURL,
		w.Rating, w.Warnings, w.Fandoms, w.Ships, w.Characters, w.Categories, w.Tags,
		w.Summary, w.Language, w.WordCount, w.ChapterCount, w.ChapterTotal,
		w.Status, w.PublishedAt, w.UpdatedAt,
	).Scan(&w.ID, &w.DateAdded)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return vault.Work{}, vault.ErrDuplicate
		}
		return vault.Work{}, fmt.Errorf("insert work: %w", err)
	}
	return w, nil
}

// GetWork returns the work by id.
func (s *Store) GetWork(ctx context.Context, id int64) (vault.Work, error) {
	query := fmt.Sprintf(`SELECT %s FROM works WHERE id = $1`, workColumns)
	w, err := scanWork(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Work{}, vault.ErrNotFound
		}
		return vault.Work{}, fmt.Errorf("get work: %w", err)
	}
	return w, nil
}

// FindWork looks up by the unique import triple.
func (s *Store) FindWork(ctx context.Context, ownerID int64, source, sourceID string) (vault.Work, error) {
	query := fmt.Sprintf(`SELECT %s FROM works WHERE owner_id = $1 AND source = $2 AND source_id = $3`, workColumns)
	w, err := scanWork(s.pool.QueryRow(ctx, query, ownerID, source, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return vault.Work{}, vault.ErrNotFound
		}
		return vault.Work{}, fmt.Errorf("find work: %w", err)
	}
	return w, nil
}

// ListWorks returns every work for an owner, newest first.
func (s *Store) ListWorks(ctx context.Context, ownerID int64) ([]vault.Work, error) {
	query := fmt.Sprintf(`SELECT %s FROM works WHERE owner_id = $1 ORDER BY date_added DESC`, workColumns)
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	defer rows.Close()
	return collectWorks(rows)
}

// ListWIPs returns incomplete works ordered by last-checked ascending,
// never-checked first.
func (s *Store) ListWIPs(ctx context.Context, ownerID int64, limit int) ([]vault.Work, error) {
	query := fmt.Sprintf(`SELECT %s FROM works
WHERE owner_id = $1 AND status = $2
ORDER BY last_checked_at ASC NULLS FIRST
LIMIT $3`, workColumns)
	rows, err := s.pool.Query(ctx, query, ownerID, vault.StatusWIP, limit)
	if err != nil {
		return nil, fmt.Errorf("list wips: %w", err)
	}
	defer rows.Close()
	return collectWorks(rows)
}

// UpdateProgress mutates the re-check owned fields.
func (s *Store) UpdateProgress(ctx context.Context, id int64, chapterCount, wordCount int, chapterTotal *int, status vault.Status, updatedAt string) error {
	query := `
UPDATE works SET chapter_count = $2, word_count = $3, chapter_total = $4, status = $5, updated_at = $6
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, chapterCount, wordCount, chapterTotal, status, updatedAt)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrNotFound
	}
	return nil
}

// TouchLastChecked stamps the re-check time.
func (s *Store) TouchLastChecked(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE works SET last_checked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrNotFound
	}
	return nil
}

// SetArchivePath records the downloaded EPUB location.
func (s *Store) SetArchivePath(ctx context.Context, id int64, path string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE works SET archive_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("set archive path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrNotFound
	}
	return nil
}

// InsertChapters writes chapters with insert-if-absent semantics on
// (work_id, number).
func (s *Store) InsertChapters(ctx context.Context, chapters []vault.Chapter) error {
	query := `
INSERT INTO chapters (work_id, number, title, html)
VALUES ($1, $2, $3, $4)
ON CONFLICT (work_id, number) DO NOTHING`
	for _, c := range chapters {
		if _, err := s.pool.Exec(ctx, query, c.WorkID, c.Number, c.Title, c.HTML); err != nil {
			return fmt.Errorf("insert chapter %d: %w", c.Number, err)
		}
	}
	return nil
}

// ListChapters returns a work's cached chapters in sequence order.
func (s *Store) ListChapters(ctx context.Context, workID int64) ([]vault.Chapter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT work_id, number, title, html FROM chapters WHERE work_id = $1 ORDER BY number ASC`, workID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()
	var out []vault.Chapter
	for rows.Next() {
		var c vault.Chapter
		if err := rows.Scan(&c.WorkID, &c.Number, &c.Title, &c.HTML); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return out, nil
}

// RecordHealthCheck appends a probe result.
func (s *Store) RecordHealthCheck(ctx context.Context, hc vault.HealthCheck) error {
	details, err := json.Marshal(hc.Details)
	if err != nil {
		return fmt.Errorf("marshal health details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO health_checks (agent, check_type, status, response_time_ms, details, checked_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		hc.Agent, hc.CheckType, hc.Status, hc.ResponseTimeMs, details, hc.CheckedAt)
	if err != nil {
		return fmt.Errorf("record health check: %w", err)
	}
	return nil
}

// ListHealthChecks returns probe history for an agent since a time;
// an empty agent matches all agents.
func (s *Store) ListHealthChecks(ctx context.Context, agent string, since time.Time) ([]vault.HealthCheck, error) {
	query := `
SELECT id, agent, check_type, status, response_time_ms, details, checked_at
FROM health_checks
WHERE ($1 = '' OR agent = $1) AND checked_at >= $2
ORDER BY checked_at DESC`
	rows, err := s.pool.Query(ctx, query, agent, since)
	if err != nil {
		return nil, fmt.Errorf("list health checks: %w", err)
	}
	defer rows.Close()
	var out []vault.HealthCheck
	for rows.Next() {
		var hc vault.HealthCheck
		var details []byte
		if err := rows.Scan(&hc.ID, &hc.Agent, &hc.CheckType, &hc.Status, &hc.ResponseTimeMs, &details, &hc.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan health check: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &hc.Details); err != nil {
				return nil, fmt.Errorf("unmarshal health details: %w", err)
			}
		}
		out = append(out, hc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list health checks: %w", err)
	}
	return out, nil
}

// PruneHealthChecks drops probe rows older than the cutoff.
func (s *Store) PruneHealthChecks(ctx context.Context, before time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM health_checks WHERE checked_at < $1`, before); err != nil {
		return fmt.Errorf("prune health checks: %w", err)
	}
	return nil
}

func scanWork(row pgx.Row) (vault.Work, error) {
	var w vault.Work
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.Source, &w.SourceID, &w.SourceURL, &w.Title, &w.Author, &w.AuthorURL,
		&w.Rating, &w.Warnings, &w.Fandoms, &w.Ships, &w.Characters, &w.Categories, &w.Tags,
		&w.Summary, &w.Language, &w.WordCount, &w.ChapterCount, &w.ChapterTotal, &w.Status,
		&w.PublishedAt, &w.UpdatedAt, &w.ArchivePath, &w.LastCheckedAt, &w.DateAdded,
	)
	return w, err
}

func collectWorks(rows pgx.Rows) ([]vault.Work, error) {
	var out []vault.Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate works: %w", err)
	}
	return out, nil
}
