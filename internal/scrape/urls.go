// Package scrape extracts structured work metadata and chapter text from
// archive HTML documents.
package scrape

import (
	"fmt"
	"regexp"

	"github.com/aovault/aovault/internal/vault"
)

var workIDPattern = regexp.MustCompile(`/works/(\d+)`)

// ExtractWorkID recovers the numeric work id from an archive URL.
// Returns vault.ErrInvalidURL when the canonical /works/<digits> path is
// absent, independent of any document content.
func ExtractWorkID(rawURL string) (string, error) {
	m := workIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", vault.ErrInvalidURL
	}
	return m[1], nil
}

// Site builds archive URLs against a configurable base, so tests can point
// the pipeline at a local server.
type Site struct {
	BaseURL string
}

// CanonicalURL is the stored source URL for a work.
func (s Site) CanonicalURL(workID string) string {
	return fmt.Sprintf("%s/works/%s", s.BaseURL, workID)
}

// PageURL is the metadata view, with the adult interstitial bypassed.
func (s Site) PageURL(workID string) string {
	return fmt.Sprintf("%s/works/%s?view_adult=true", s.BaseURL, workID)
}

// FullWorkURL is the single-page view containing every chapter.
func (s Site) FullWorkURL(workID string) string {
	return fmt.Sprintf("%s/works/%s?view_adult=true&view_full_work=true", s.BaseURL, workID)
}

// EpubURL is the archive's EPUB export for a work.
func (s Site) EpubURL(workID string) string {
	return fmt.Sprintf("%s/downloads/%s/work.epub", s.BaseURL, workID)
}
