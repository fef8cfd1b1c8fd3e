package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aovault/aovault/internal/vault"
)

// WorkContent is the chapter text extracted from a full-work HTML page.
type WorkContent struct {
	Chapters []vault.Chapter
	PreNote  string
	EndNote  string
}

// ParseChapters extracts ordered chapter bodies from the full-work view.
// Falls back to a single-chapter document layout when the multi-chapter
// container is absent. Chapter numbers are assigned densely from 1 over
// the retained chapters; WorkID is left for the caller to fill in.
func ParseChapters(html []byte) (WorkContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return WorkContent{}, &vault.ParseError{Stage: "chapters", Err: err}
	}

	var out WorkContent
	out.PreNote = noteHTML(doc.Find(".preface .notes blockquote").First())
	out.EndNote = noteHTML(doc.Find("#work_endnotes blockquote").First())

	divs := doc.Find("#chapters .chapter")
	if divs.Length() == 0 {
		// Single-chapter works have no per-chapter wrappers.
		body := contentHTML(doc.Find("#chapters .userstuff").First())
		if body == "" {
			body = contentHTML(doc.Find("#workskin .userstuff").First())
		}
		if body == "" {
			return WorkContent{}, &vault.ParseError{Stage: "chapters", Err: fmt.Errorf("no chapter content found")}
		}
		out.Chapters = []vault.Chapter{{Number: 1, Title: "Chapter 1", HTML: body}}
		return out, nil
	}

	divs.Each(func(_ int, div *goquery.Selection) {
		region := div.Find(`.userstuff[role="article"]`).First()
		if region.Length() == 0 {
			region = div.Find(".userstuff").First()
		}
		body := contentHTML(region)
		if body == "" {
			return
		}
		number := len(out.Chapters) + 1
		title := strings.TrimSpace(div.Find("h3.title").First().Text())
		if title == "" {
			title = fmt.Sprintf("Chapter %d", number)
		}
		out.Chapters = append(out.Chapters, vault.Chapter{
			Number: number,
			Title:  title,
			HTML:   body,
		})
	})

	if len(out.Chapters) == 0 {
		return WorkContent{}, &vault.ParseError{Stage: "chapters", Err: fmt.Errorf("all chapter divisions empty")}
	}
	return out, nil
}

// contentHTML returns the sanitized inner HTML of a content region, or ""
// when the region reduces to nothing.
func contentHTML(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if strings.TrimSpace(sel.Text()) == "" {
		return ""
	}
	h, err := sel.Html()
	if err != nil {
		return ""
	}
	return vault.StripControl(strings.TrimSpace(h))
}

func noteHTML(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	h, err := sel.Html()
	if err != nil {
		return ""
	}
	return vault.StripControl(strings.TrimSpace(h))
}
