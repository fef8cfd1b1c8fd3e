package vault

import (
	"context"
	"time"
)

// WorkStore persists work metadata.
type WorkStore interface {
	// CreateWork inserts a new work and returns it with its id assigned.
	// Returns ErrDuplicate if (owner, source, source id) already exists.
	CreateWork(ctx context.Context, w Work) (Work, error)
	GetWork(ctx context.Context, id int64) (Work, error)
	FindWork(ctx context.Context, ownerID int64, source, sourceID string) (Work, error)
	ListWorks(ctx context.Context, ownerID int64) ([]Work, error)

	// ListWIPs returns incomplete works ordered by last-checked ascending,
	// never-checked first, for the re-check scheduler.
	ListWIPs(ctx context.Context, ownerID int64, limit int) ([]Work, error)

	// UpdateProgress mutates the fields owned by the re-check routine.
	UpdateProgress(ctx context.Context, id int64, chapterCount, wordCount int, chapterTotal *int, status Status, updatedAt string) error
	TouchLastChecked(ctx context.Context, id int64, at time.Time) error
	SetArchivePath(ctx context.Context, id int64, path string) error
}

// ChapterStore caches extracted chapters.
type ChapterStore interface {
	// InsertChapters writes chapters with insert-if-absent semantics on
	// (work, number); repeated or concurrent writes never duplicate rows.
	InsertChapters(ctx context.Context, chapters []Chapter) error
	ListChapters(ctx context.Context, workID int64) ([]Chapter, error)
}

// HealthStore records monitor probe history.
type HealthStore interface {
	RecordHealthCheck(ctx context.Context, hc HealthCheck) error
	ListHealthChecks(ctx context.Context, agent string, since time.Time) ([]HealthCheck, error)
	PruneHealthChecks(ctx context.Context, before time.Time) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
