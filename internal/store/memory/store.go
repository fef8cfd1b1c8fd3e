// Package memory provides an in-memory store implementation for tests and
// for running the service without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aovault/aovault/internal/vault"
)

// Store implements the vault store interfaces with map-backed state.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	works    map[int64]vault.Work
	chapters map[int64]map[int]vault.Chapter
	health   []vault.HealthCheck
	clock    vault.Clock
}

// New creates an empty Store.
func New(clock vault.Clock) *Store {
	return &Store{
		nextID:   1,
		works:    make(map[int64]vault.Work),
		chapters: make(map[int64]map[int]vault.Chapter),
		clock:    clock,
	}
}

// CreateWork inserts a work, enforcing (owner, source, source id)
// uniqueness before assigning an id.
func (s *Store) CreateWork(_ context.Context, w vault.Work) (vault.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.works {
		if existing.OwnerID == w.OwnerID && existing.Source == w.Source && existing.SourceID == w.SourceID {
			return vault.Work{}, vault.ErrDuplicate
		}
	}
	w.ID = s.nextID
	s.nextID++
	if w.DateAdded.IsZero() {
		w.DateAdded = s.clock.Now()
	}
	s.works[w.ID] = w
	return w, nil
}

// GetWork returns the work by id.
func (s *Store) GetWork(_ context.Context, id int64) (vault.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	if !ok {
		return vault.Work{}, vault.ErrNotFound
	}
	return w, nil
}

// FindWork looks up by the unique import triple.
func (s *Store) FindWork(_ context.Context, ownerID int64, source, sourceID string) (vault.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.works {
		if w.OwnerID == ownerID && w.Source == source && w.SourceID == sourceID {
			return w, nil
		}
	}
	return vault.Work{}, vault.ErrNotFound
}

// ListWorks returns every work for an owner, newest first.
func (s *Store) ListWorks(_ context.Context, ownerID int64) ([]vault.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.Work
	for _, w := range s.works {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateAdded.After(out[j].DateAdded) })
	return out, nil
}

// ListWIPs returns incomplete works ordered by last-checked ascending,
// never-checked first.
func (s *Store) ListWIPs(_ context.Context, ownerID int64, limit int) ([]vault.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.Work
	for _, w := range s.works {
		if w.OwnerID == ownerID && w.Status == vault.StatusWIP {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastCheckedAt, out[j].LastCheckedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateProgress mutates the re-check owned fields.
func (s *Store) UpdateProgress(_ context.Context, id int64, chapterCount, wordCount int, chapterTotal *int, status vault.Status, updatedAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	if !ok {
		return vault.ErrNotFound
	}
	w.ChapterCount = chapterCount
	w.WordCount = wordCount
	w.ChapterTotal = chapterTotal
	w.Status = status
	w.UpdatedAt = updatedAt
	s.works[id] = w
	return nil
}

// TouchLastChecked stamps the re-check time.
func (s *Store) TouchLastChecked(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	if !ok {
		return vault.ErrNotFound
	}
	w.LastCheckedAt = &at
	s.works[id] = w
	return nil
}

// SetArchivePath records the downloaded EPUB location.
func (s *Store) SetArchivePath(_ context.Context, id int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	if !ok {
		return vault.ErrNotFound
	}
	w.ArchivePath = &path
	s.works[id] = w
	return nil
}

// InsertChapters writes chapters with insert-if-absent semantics on
// (work, number); an existing row keeps its original content.
func (s *Store) InsertChapters(_ context.Context, chapters []vault.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chapters {
		byNumber, ok := s.chapters[c.WorkID]
		if !ok {
			byNumber = make(map[int]vault.Chapter)
			s.chapters[c.WorkID] = byNumber
		}
		if _, exists := byNumber[c.Number]; exists {
			continue
		}
		byNumber[c.Number] = c
	}
	return nil
}

// ListChapters returns a work's cached chapters in sequence order.
func (s *Store) ListChapters(_ context.Context, workID int64) ([]vault.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNumber := s.chapters[workID]
	out := make([]vault.Chapter, 0, len(byNumber))
	for _, c := range byNumber {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// RecordHealthCheck appends a probe result.
func (s *Store) RecordHealthCheck(_ context.Context, hc vault.HealthCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hc.ID = int64(len(s.health) + 1)
	if hc.CheckedAt.IsZero() {
		hc.CheckedAt = s.clock.Now()
	}
	s.health = append(s.health, hc)
	return nil
}

// ListHealthChecks returns probe history for an agent since a time;
// an empty agent matches all agents.
func (s *Store) ListHealthChecks(_ context.Context, agent string, since time.Time) ([]vault.HealthCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.HealthCheck
	for _, hc := range s.health {
		if agent != "" && hc.Agent != agent {
			continue
		}
		if hc.CheckedAt.Before(since) {
			continue
		}
		out = append(out, hc)
	}
	return out, nil
}

// PruneHealthChecks drops probe rows older than the cutoff.
func (s *Store) PruneHealthChecks(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.health[:0]
	for _, hc := range s.health {
		if !hc.CheckedAt.Before(before) {
			kept = append(kept, hc)
		}
	}
	s.health = kept
	return nil
}
