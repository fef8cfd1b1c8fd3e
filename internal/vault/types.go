// Package vault defines the core types shared across the import and read
// pipelines.
package vault

import "time"

// Source identifies the archive a work came from. Only AO3 is supported.
const SourceAO3 = "ao3"

// Status is the derived completion state of a work.
type Status string

// Status values stored on a work. Status is always derived from chapter
// progress, never taken from a source field.
const (
	StatusComplete Status = "Complete"
	StatusWIP      Status = "WIP"
)

// DeriveStatus computes the completion status from chapter progress.
// A nil total means the work is ongoing.
func DeriveStatus(count int, total *int) Status {
	if total != nil && count >= *total {
		return StatusComplete
	}
	return StatusWIP
}

// Work is one imported fanfiction item owned by a user.
// (OwnerID, Source, SourceID) is unique.
type Work struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Source    string    `json:"source"`
	SourceID  string    `json:"source_id"`
	SourceURL string    `json:"source_url"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	AuthorURL *string   `json:"author_url,omitempty"`
	Rating    string    `json:"rating"`
	Warnings  string    `json:"warnings"`
	Fandoms   string    `json:"fandoms"`
	Ships     string    `json:"ships"`
	Characters string   `json:"characters"`
	Categories string   `json:"categories"`
	Tags      string    `json:"tags"`
	Summary   string    `json:"summary"`
	Language  string    `json:"language"`
	WordCount int       `json:"word_count"`

	// ChapterTotal is nil while the source reports "?" chapters.
	ChapterCount int    `json:"chapter_count"`
	ChapterTotal *int   `json:"chapter_total,omitempty"`
	Status       Status `json:"status"`

	// Source-defined date strings, stored opaque.
	PublishedAt string `json:"published_at"`
	UpdatedAt   string `json:"updated_at"`

	// ArchivePath is nil when the EPUB download failed at import time.
	ArchivePath   *string    `json:"archive_path,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	DateAdded     time.Time  `json:"date_added"`
}

// Chapter is one ordered unit of story text belonging to a work.
// (WorkID, Number) is unique; numbers are dense starting at 1.
type Chapter struct {
	WorkID int64  `json:"work_id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	HTML   string `json:"html"`
}

// HealthCheck is one probe result recorded by a monitor agent.
type HealthCheck struct {
	ID             int64          `json:"id"`
	Agent          string         `json:"agent"`
	CheckType      string         `json:"check_type"`
	Status         string         `json:"status"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Details        map[string]any `json:"details,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// Health check status values.
const (
	HealthHealthy     = "healthy"
	HealthDegraded    = "degraded"
	HealthRateLimited = "rate_limited"
	HealthDown        = "down"
)

// UpdateResult is one entry returned by the WIP re-check routine.
type UpdateResult struct {
	WorkID  int64          `json:"work_id"`
	Skipped bool           `json:"skipped,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}
