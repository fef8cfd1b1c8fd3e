// Package content resolves a work's full chapter text through a cache
// hierarchy: the database first, then the archived EPUB, then a live fetch.
package content

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aovault/aovault/internal/epub"
	"github.com/aovault/aovault/internal/logging"
	"github.com/aovault/aovault/internal/metrics"
	"github.com/aovault/aovault/internal/scrape"
	"github.com/aovault/aovault/internal/transport"
	"github.com/aovault/aovault/internal/vault"
)

// Fetcher retrieves a page through the strategy orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, req transport.Request) ([]byte, error)
}

// Result is a fully resolved reading view of a work.
type Result struct {
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Chapters []vault.Chapter `json:"chapters"`
	PreNote  string          `json:"preNote,omitempty"`
	EndNote  string          `json:"endNote,omitempty"`
	Source   string          `json:"source"`
}

// Resolver walks the three content tiers and writes recovered chapters
// back to the database so later reads stay on the first tier.
type Resolver struct {
	works    vault.WorkStore
	chapters vault.ChapterStore
	fetcher  Fetcher
	site     scrape.Site
	extract  func(path string) ([]vault.Chapter, error)
	logger   *zap.Logger
}

// New creates a Resolver.
func New(works vault.WorkStore, chapters vault.ChapterStore, fetcher Fetcher, site scrape.Site, logger *zap.Logger) *Resolver {
	return &Resolver{
		works:    works,
		chapters: chapters,
		fetcher:  fetcher,
		site:     site,
		extract:  epub.Extract,
		logger:   logging.OrNop(logger),
	}
}

// Resolve returns the work's chapters from the cheapest available tier.
func (r *Resolver) Resolve(ctx context.Context, workID int64) (Result, error) {
	work, err := r.works.GetWork(ctx, workID)
	if err != nil {
		return Result{}, err
	}

	cached, err := r.chapters.ListChapters(ctx, workID)
	if err != nil {
		return Result{}, fmt.Errorf("list cached chapters: %w", err)
	}
	if len(cached) > 0 {
		metrics.ObserveResolveTier("db")
		return r.result(work, cached, "", "", "db"), nil
	}

	if work.ArchivePath != nil && *work.ArchivePath != "" {
		chapters, err := r.fromArchive(ctx, work)
		if err == nil && len(chapters) > 0 {
			metrics.ObserveResolveTier("epub")
			return r.result(work, chapters, "", "", "epub"), nil
		}
		if err != nil {
			r.logger.Warn("epub tier failed, falling through to live fetch",
				zap.Int64("work_id", workID), zap.Error(err))
		}
	}

	wc, err := r.fromLive(ctx, work)
	if err != nil {
		return Result{}, err
	}
	metrics.ObserveResolveTier("ao3")
	return r.result(work, wc.Chapters, wc.PreNote, wc.EndNote, "ao3"), nil
}

func (r *Resolver) fromArchive(ctx context.Context, work vault.Work) ([]vault.Chapter, error) {
	chapters, err := r.extract(*work.ArchivePath)
	if err != nil {
		return nil, err
	}
	for i := range chapters {
		chapters[i].WorkID = work.ID
	}
	if len(chapters) > 0 {
		if err := r.chapters.InsertChapters(ctx, chapters); err != nil {
			// The extraction still succeeded; serve it and warn.
			r.logger.Warn("write-through from epub failed", zap.Int64("work_id", work.ID), zap.Error(err))
		}
	}
	return chapters, nil
}

func (r *Resolver) fromLive(ctx context.Context, work vault.Work) (scrape.WorkContent, error) {
	body, err := r.fetcher.Fetch(ctx, transport.Request{URL: r.site.FullWorkURL(work.SourceID)})
	if err != nil {
		return scrape.WorkContent{}, err
	}
	wc, err := scrape.ParseChapters(body)
	if err != nil {
		return scrape.WorkContent{}, err
	}
	for i := range wc.Chapters {
		wc.Chapters[i].WorkID = work.ID
	}
	if err := r.chapters.InsertChapters(ctx, wc.Chapters); err != nil {
		r.logger.Warn("write-through from live fetch failed", zap.Int64("work_id", work.ID), zap.Error(err))
	}
	return wc, nil
}

func (r *Resolver) result(work vault.Work, chapters []vault.Chapter, preNote, endNote, source string) Result {
	return Result{
		Title:    work.Title,
		Author:   work.Author,
		Chapters: chapters,
		PreNote:  preNote,
		EndNote:  endNote,
		Source:   source,
	}
}

// IsRateLimited reports whether a resolve failure carries a retry-after
// countdown the caller should surface.
func IsRateLimited(err error) (*vault.RateLimitedError, bool) {
	var rle *vault.RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
