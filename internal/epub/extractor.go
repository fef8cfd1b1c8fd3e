// Package epub extracts ordered chapter text from a downloaded archive
// EPUB container, independent of network state.
package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/aovault/aovault/internal/vault"
)

const containerPath = "META-INF/container.xml"

// The archive's EPUBs come from a single known generator, so the container
// descriptor and package manifest are pattern-matched rather than parsed
// as full XML.
var (
	manifestRefPattern = regexp.MustCompile(`full-path="([^"]+)"`)
	itemPattern        = regexp.MustCompile(`<item\s[^>]*>`)
	itemIDPattern      = regexp.MustCompile(`id="([^"]+)"`)
	itemHrefPattern    = regexp.MustCompile(`href="([^"]+)"`)
	spineRefPattern    = regexp.MustCompile(`<itemref\s[^>]*idref="([^"]+)"`)

	bodyPattern         = regexp.MustCompile(`(?is)<body[^>]*>(.*)</body>`)
	titleHeadingPattern = regexp.MustCompile(`(?is)<h\d[^>]*class="[^"]*title[^"]*"[^>]*>(.*?)</h\d>`)
	anyHeadingPattern   = regexp.MustCompile(`(?is)<h\d[^>]*>(.*?)</h\d>`)
	tagPattern          = regexp.MustCompile(`<[^>]*>`)
	tokenSplitPattern   = regexp.MustCompile(`[^a-z]+`)
)

// skipTokens filters manifest items whose file name marks a non-story role.
var skipTokens = map[string]bool{
	"nav":             true,
	"navigation":      true,
	"cover":           true,
	"title":           true,
	"titlepage":       true,
	"toc":             true,
	"contents":        true,
	"copyright":       true,
	"acknowledgement": true,
	"acknowledgements": true,
	"acknowledgments": true,
	"preface":         true,
}

// Extract parses the EPUB at the given path into an ordered chapter list.
// A zero-chapter result (everything filtered) is distinct from a parse
// error and returns an empty slice with a nil error.
func Extract(archivePath string) ([]vault.Chapter, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &vault.ParseError{Stage: "archive", Err: err}
	}
	defer r.Close()

	files, err := readAll(&r.Reader)
	if err != nil {
		return nil, &vault.ParseError{Stage: "archive", Err: err}
	}
	return extract(files)
}

// readAll decodes the whole container into path → text content. Binary
// assets are irrelevant and may be mis-decoded without consequence.
func readAll(r *zip.Reader) (map[string]string, error) {
	files := make(map[string]string, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		files[f.Name] = string(data)
	}
	return files, nil
}

func extract(files map[string]string) ([]vault.Chapter, error) {
	container, ok := files[containerPath]
	if !ok {
		return nil, &vault.ParseError{Stage: "container", Err: fmt.Errorf("missing %s", containerPath)}
	}
	ref := manifestRefPattern.FindStringSubmatch(container)
	if ref == nil {
		return nil, &vault.ParseError{Stage: "container", Err: fmt.Errorf("no manifest reference in container descriptor")}
	}
	opfPath := ref[1]
	opf, ok := files[opfPath]
	if !ok {
		return nil, &vault.ParseError{Stage: "manifest", Err: fmt.Errorf("manifest %s not present in archive", opfPath)}
	}

	hrefByID := make(map[string]string)
	for _, item := range itemPattern.FindAllString(opf, -1) {
		id := itemIDPattern.FindStringSubmatch(item)
		href := itemHrefPattern.FindStringSubmatch(item)
		if id == nil || href == nil {
			continue
		}
		hrefByID[id[1]] = href[1]
	}

	var spine []string
	for _, m := range spineRefPattern.FindAllStringSubmatch(opf, -1) {
		spine = append(spine, m[1])
	}
	if len(spine) == 0 {
		return nil, &vault.ParseError{Stage: "manifest", Err: fmt.Errorf("empty spine in %s", opfPath)}
	}

	opfDir := path.Dir(opfPath)
	chapters := make([]vault.Chapter, 0, len(spine))
	for _, id := range spine {
		href, ok := hrefByID[id]
		if !ok {
			continue
		}
		if isNonStory(href) {
			continue
		}
		content, ok := resolveContent(files, opfDir, href)
		if !ok {
			continue
		}
		body := extractBody(content)
		if body == "" {
			continue
		}
		number := len(chapters) + 1
		chapters = append(chapters, vault.Chapter{
			Number: number,
			Title:  chapterTitle(content, number),
			HTML:   body,
		})
	}
	return chapters, nil
}

// resolveContent locates a manifest href relative to the manifest's own
// directory, supporting both flat and nested archive layouts.
func resolveContent(files map[string]string, opfDir, href string) (string, bool) {
	if opfDir != "." {
		if content, ok := files[path.Join(opfDir, href)]; ok {
			return content, true
		}
	}
	content, ok := files[href]
	return content, ok
}

// isNonStory matches known non-story roles against whole tokens of the
// item's base name, so "preface_page.xhtml" is excluded while a chapter
// file that merely contains the word survives.
func isNonStory(href string) bool {
	base := strings.ToLower(path.Base(href))
	base = strings.TrimSuffix(base, path.Ext(base))
	for _, tok := range tokenSplitPattern.Split(base, -1) {
		if skipTokens[tok] {
			return true
		}
	}
	return false
}

// extractBody pulls the body region, strips control characters, and
// returns "" when the item reduces to empty content.
func extractBody(content string) string {
	m := bodyPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	body := vault.StripControl(strings.TrimSpace(m[1]))
	if strings.TrimSpace(tagPattern.ReplaceAllString(body, "")) == "" {
		return ""
	}
	return body
}

// chapterTitle prefers a "title"-flavored heading, falls back to any
// heading, then to a synthesized "Chapter N".
func chapterTitle(content string, number int) string {
	if m := titleHeadingPattern.FindStringSubmatch(content); m != nil {
		if t := headingText(m[1]); t != "" {
			return t
		}
	}
	if m := anyHeadingPattern.FindStringSubmatch(content); m != nil {
		if t := headingText(m[1]); t != "" {
			return t
		}
	}
	return fmt.Sprintf("Chapter %d", number)
}

func headingText(inner string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(inner, ""))
}
