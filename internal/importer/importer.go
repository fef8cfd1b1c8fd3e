// Package importer drives the import pipeline: URL validation, dedupe,
// page fetch, metadata extraction, persistence, and EPUB archival.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aovault/aovault/internal/epub"
	"github.com/aovault/aovault/internal/logging"
	"github.com/aovault/aovault/internal/metrics"
	"github.com/aovault/aovault/internal/scrape"
	"github.com/aovault/aovault/internal/vault"
)

// ErrNeedsClientFetch signals that every server-side transport failed and
// the caller should fetch the page itself and resubmit the HTML.
var ErrNeedsClientFetch = errors.New("server-side fetch exhausted, client fetch required")

// Fetcher is the slice of the orchestrator the importer needs.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
	FetchEPUB(ctx context.Context, url string) ([]byte, error)
}

// Importer imports works and re-checks incomplete ones.
type Importer struct {
	works    vault.WorkStore
	chapters vault.ChapterStore
	fetcher  Fetcher
	site     scrape.Site
	epubDir  string
	clock    vault.Clock
	logger   *zap.Logger
}

// New creates an Importer. epubDir may be empty to disable archival.
func New(works vault.WorkStore, chapters vault.ChapterStore, fetcher Fetcher, site scrape.Site, epubDir string, clock vault.Clock, logger *zap.Logger) *Importer {
	return &Importer{
		works:    works,
		chapters: chapters,
		fetcher:  fetcher,
		site:     site,
		epubDir:  epubDir,
		clock:    clock,
		logger:   logging.OrNop(logger),
	}
}

// Import adds a work to an owner's library. prefetchedHTML, when non-empty,
// is a client-supplied copy of the work page used instead of fetching.
func (i *Importer) Import(ctx context.Context, ownerID int64, rawURL string, prefetchedHTML []byte) (vault.Work, error) {
	workID, err := scrape.ExtractWorkID(rawURL)
	if err != nil {
		metrics.ObserveImport("invalid_url")
		return vault.Work{}, err
	}

	// On a duplicate the existing work is returned alongside the error so
	// the API can point the client at the already-saved copy.
	if existing, err := i.works.FindWork(ctx, ownerID, vault.SourceAO3, workID); err == nil {
		metrics.ObserveImport("duplicate")
		return existing, vault.ErrDuplicate
	} else if !errors.Is(err, vault.ErrNotFound) {
		return vault.Work{}, fmt.Errorf("dedupe check: %w", err)
	}

	html := prefetchedHTML
	if len(html) == 0 {
		html, err = i.fetcher.FetchPage(ctx, i.site.PageURL(workID))
		if err != nil {
			var rle *vault.RateLimitedError
			if errors.As(err, &rle) {
				metrics.ObserveImport("rate_limited")
				return vault.Work{}, err
			}
			var te *vault.TransportError
			if errors.As(err, &te) {
				metrics.ObserveImport("needs_client_fetch")
				return vault.Work{}, fmt.Errorf("%w: %s", ErrNeedsClientFetch, te.Error())
			}
			metrics.ObserveImport("fetch_error")
			return vault.Work{}, err
		}
	}

	work, err := scrape.ParseWork(i.site.CanonicalURL(workID), html, i.site)
	if err != nil {
		metrics.ObserveImport("parse_error")
		return vault.Work{}, err
	}
	work.OwnerID = ownerID

	created, err := i.works.CreateWork(ctx, work)
	if err != nil {
		if errors.Is(err, vault.ErrDuplicate) {
			metrics.ObserveImport("duplicate")
			// Lost a race with a concurrent import of the same work.
			if existing, findErr := i.works.FindWork(ctx, ownerID, vault.SourceAO3, workID); findErr == nil {
				return existing, vault.ErrDuplicate
			}
		}
		return vault.Work{}, err
	}

	// Archival is best effort. A missing EPUB never fails the import.
	if i.epubDir != "" {
		if err := i.archive(ctx, &created); err != nil {
			i.logger.Warn("epub archival failed", zap.Int64("work_id", created.ID), zap.Error(err))
		}
	}

	metrics.ObserveImport("imported")
	i.logger.Info("work imported",
		zap.Int64("work_id", created.ID),
		zap.String("source_id", created.SourceID),
		zap.String("title", created.Title))
	return created, nil
}

func (i *Importer) archive(ctx context.Context, work *vault.Work) error {
	blob, err := i.fetcher.FetchEPUB(ctx, i.site.EpubURL(work.SourceID))
	if err != nil {
		return fmt.Errorf("download epub: %w", err)
	}

	dir := filepath.Join(i.epubDir, fmt.Sprintf("%d", work.OwnerID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, work.SourceID+".epub")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write epub: %w", err)
	}
	if err := i.works.SetArchivePath(ctx, work.ID, path); err != nil {
		return fmt.Errorf("record archive path: %w", err)
	}
	work.ArchivePath = &path

	chapters, err := epub.Extract(path)
	if err != nil {
		return fmt.Errorf("extract epub: %w", err)
	}
	for idx := range chapters {
		chapters[idx].WorkID = work.ID
	}
	if len(chapters) > 0 {
		if err := i.chapters.InsertChapters(ctx, chapters); err != nil {
			return fmt.Errorf("cache chapters: %w", err)
		}
	}
	return nil
}

// CheckForUpdates re-fetches metadata for an owner's incomplete works. Two
// consecutive fetch failures open the breaker and the remainder is skipped.
func (i *Importer) CheckForUpdates(ctx context.Context, ownerID int64, limit int) ([]vault.UpdateResult, error) {
	wips, err := i.works.ListWIPs(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wips: %w", err)
	}

	results := make([]vault.UpdateResult, 0, len(wips))
	consecutiveFailures := 0
	for idx, work := range wips {
		if consecutiveFailures >= 2 {
			for _, rest := range wips[idx:] {
				results = append(results, vault.UpdateResult{WorkID: rest.ID, Skipped: true})
			}
			i.logger.Warn("update check breaker open, skipping remainder",
				zap.Int64("owner_id", ownerID), zap.Int("skipped", len(wips)-idx))
			break
		}

		result, err := i.recheck(ctx, work)
		if err != nil {
			consecutiveFailures++
			i.logger.Warn("update check failed",
				zap.Int64("work_id", work.ID), zap.Error(err))
			results = append(results, vault.UpdateResult{WorkID: work.ID, Skipped: true})
			continue
		}
		consecutiveFailures = 0
		results = append(results, result)
	}
	return results, nil
}

func (i *Importer) recheck(ctx context.Context, work vault.Work) (vault.UpdateResult, error) {
	html, err := i.fetcher.FetchPage(ctx, i.site.PageURL(work.SourceID))
	if err != nil {
		return vault.UpdateResult{}, err
	}
	fresh, err := scrape.ParseWork(work.SourceURL, html, i.site)
	if err != nil {
		return vault.UpdateResult{}, err
	}

	changes := map[string]any{}
	if fresh.ChapterCount != work.ChapterCount {
		changes["chapter_count"] = fresh.ChapterCount
	}
	if fresh.WordCount != work.WordCount {
		changes["word_count"] = fresh.WordCount
	}
	if fresh.Status != work.Status {
		changes["status"] = string(fresh.Status)
	}

	if len(changes) > 0 {
		err = i.works.UpdateProgress(ctx, work.ID,
			fresh.ChapterCount, fresh.WordCount, fresh.ChapterTotal, fresh.Status, fresh.UpdatedAt)
		if err != nil {
			return vault.UpdateResult{}, fmt.Errorf("update progress: %w", err)
		}
	}
	if err := i.works.TouchLastChecked(ctx, work.ID, i.clock.Now()); err != nil {
		return vault.UpdateResult{}, fmt.Errorf("touch last checked: %w", err)
	}
	return vault.UpdateResult{WorkID: work.ID, Changes: changes}, nil
}
