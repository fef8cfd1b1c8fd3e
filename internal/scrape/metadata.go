package scrape

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aovault/aovault/internal/vault"
)

var (
	wordCountPattern = regexp.MustCompile(`[\d,]+`)
	chaptersPattern  = regexp.MustCompile(`(\d+)/(\d+|\?)`)
)

// titleSelectors are tried in order; the first non-empty match wins.
var titleSelectors = []string{
	"h2.title.heading",
	".preface .title",
	"#workskin .title",
}

// ParseWork extracts a Work record from an archive work page. Only a
// missing work id is fatal; every other absent field degrades to a
// default, favoring partial metadata over total failure.
func ParseWork(rawURL string, html []byte, site Site) (vault.Work, error) {
	workID, err := ExtractWorkID(rawURL)
	if err != nil {
		return vault.Work{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return vault.Work{}, &vault.ParseError{Stage: "metadata", Err: err}
	}

	w := vault.Work{
		Source:    vault.SourceAO3,
		SourceID:  workID,
		SourceURL: site.CanonicalURL(workID),
	}

	w.Title = "Untitled"
	for _, sel := range titleSelectors {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			w.Title = t
			break
		}
	}

	w.Author = "Anonymous"
	author := doc.Find(`a[rel="author"]`).First()
	if name := strings.TrimSpace(author.Text()); name != "" {
		w.Author = name
		if href, ok := author.Attr("href"); ok && href != "" {
			u := href
			if strings.HasPrefix(u, "/") {
				u = site.BaseURL + u
			}
			w.AuthorURL = &u
		}
	}

	w.Rating = strings.TrimSpace(doc.Find("dd.rating").First().Text())
	w.Warnings = joinLinks(doc, "dd.warning")
	w.Fandoms = joinLinks(doc, "dd.fandom")
	w.Ships = joinLinks(doc, "dd.relationship")
	w.Characters = joinLinks(doc, "dd.character")
	w.Categories = joinLinks(doc, "dd.category")
	w.Tags = joinLinks(doc, "dd.freeform")
	w.Language = strings.TrimSpace(doc.Find("dd.language").First().Text())
	w.Summary = strings.TrimSpace(doc.Find("div.summary blockquote").First().Text())

	w.WordCount = parseWordCount(doc.Find("dd.words").First().Text())
	w.ChapterCount, w.ChapterTotal = parseChapters(doc.Find("dd.chapters").First().Text())
	w.Status = vault.DeriveStatus(w.ChapterCount, w.ChapterTotal)

	w.PublishedAt = strings.TrimSpace(doc.Find("dd.published").First().Text())
	w.UpdatedAt = strings.TrimSpace(doc.Find("dd.status").First().Text())
	if w.UpdatedAt == "" {
		w.UpdatedAt = w.PublishedAt
	}

	return w, nil
}

// joinLinks collects the trimmed text of every link inside the labeled
// definition block, in source order, joined with comma+space.
func joinLinks(doc *goquery.Document, selector string) string {
	var parts []string
	doc.Find(selector + " a").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, ", ")
}

func parseWordCount(raw string) int {
	m := wordCountPattern.FindString(raw)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// parseChapters reads the "current/total" field; a total of "?" means the
// work is ongoing and yields a nil total.
func parseChapters(raw string) (int, *int) {
	m := chaptersPattern.FindStringSubmatch(raw)
	if m == nil {
		return 1, nil
	}
	count, err := strconv.Atoi(m[1])
	if err != nil {
		count = 1
	}
	if m[2] == "?" {
		return count, nil
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return count, nil
	}
	return count, &total
}
