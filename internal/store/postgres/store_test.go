package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/aovault/aovault/internal/vault"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateWorkReturnsID(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("INSERT INTO works").
		WillReturnRows(pgxmock.NewRows([]string{"id", "date_added"}).AddRow(int64(7), now))

	w, err := store.CreateWork(context.Background(), vault.Work{
		OwnerID:  1,
		Source:   vault.SourceAO3,
		SourceID: "61463624",
		Title:    "Test Fic",
		Author:   "testauthor",
		Status:   vault.StatusWIP,
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), w.ID)
	require.Equal(t, now, w.DateAdded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWorkUniqueViolationIsDuplicate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO works").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "works_owner_id_source_source_id_key"})

	_, err := store.CreateWork(context.Background(), vault.Work{OwnerID: 1, Source: vault.SourceAO3, SourceID: "1"})
	require.ErrorIs(t, err, vault.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("(?s)SELECT .+ FROM works WHERE id").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetWork(context.Background(), 99)
	require.ErrorIs(t, err, vault.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWIPsQueryShape(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	cols := []string{
		"id", "owner_id", "source", "source_id", "source_url", "title", "author", "author_url",
		"rating", "warnings", "fandoms", "ships", "characters", "categories", "tags", "summary",
		"language", "word_count", "chapter_count", "chapter_total", "status", "published_at",
		"updated_at", "archive_path", "last_checked_at", "date_added",
	}
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("(?s)SELECT .+ FROM works\\s+WHERE owner_id = \\$1 AND status = \\$2\\s+ORDER BY last_checked_at ASC NULLS FIRST").
		WithArgs(int64(1), vault.StatusWIP, 25).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			int64(3), int64(1), vault.SourceAO3, "61463624", "https://archiveofourown.org/works/61463624",
			"Test Fic", "testauthor", (*string)(nil),
			"Teen And Up Audiences", "No Archive Warnings Apply", "Testing",
			"", "", "Gen", "Fluff", "A summary.",
			"English", 12345, 3, (*int)(nil), vault.StatusWIP, "2025-01-01", "2025-02-01",
			(*string)(nil), (*time.Time)(nil), now,
		))

	wips, err := store.ListWIPs(context.Background(), 1, 25)
	require.NoError(t, err)
	require.Len(t, wips, 1)
	require.Equal(t, "Test Fic", wips[0].Title)
	require.Nil(t, wips[0].ChapterTotal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE works SET chapter_count").
		WithArgs(int64(42), 5, 20000, (*int)(nil), vault.StatusWIP, "2026-02-01").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateProgress(context.Background(), 42, 5, 20000, nil, vault.StatusWIP, "2026-02-01")
	require.ErrorIs(t, err, vault.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertChaptersConflictDoesNothing(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO chapters").
		WithArgs(int64(3), 1, "Chapter 1", "<p>one</p>").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO chapters").
		WithArgs(int64(3), 2, "Chapter 2", "<p>two</p>").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.InsertChapters(context.Background(), []vault.Chapter{
		{WorkID: 3, Number: 1, Title: "Chapter 1", HTML: "<p>one</p>"},
		{WorkID: 3, Number: 2, Title: "Chapter 2", HTML: "<p>two</p>"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordHealthCheckMarshalsDetails(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO health_checks").
		WithArgs("archive", "direct", vault.HealthHealthy, int64(120), []byte(`{"status_code":200}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordHealthCheck(context.Background(), vault.HealthCheck{
		Agent:          "archive",
		CheckType:      "direct",
		Status:         vault.HealthHealthy,
		ResponseTimeMs: 120,
		Details:        map[string]any{"status_code": 200},
		CheckedAt:      now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneHealthChecks(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	cutoff := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("DELETE FROM health_checks").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, store.PruneHealthChecks(context.Background(), cutoff))
	require.NoError(t, mock.ExpectationsWereMet())
}
