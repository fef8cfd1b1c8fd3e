package epub

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aovault/aovault/internal/vault"
)

func writeEpub(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "work.epub")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func chapterDoc(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>` + title + `</title></head>
<body>
  <h2 class="heading title">` + title + `</h2>
  <div class="userstuff">` + body + `</div>
</body>
</html>`
}

func nestedFixture(t *testing.T) string {
	return writeEpub(t, map[string]string{
		"mimetype":           "application/epub+zip",
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <manifest>
    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>
    <item id="toc" href="toc.xhtml" media-type="application/xhtml+xml"/>
    <item id="preface" href="preface_page.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch3" href="chapter3.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="cover"/>
    <itemref idref="toc"/>
    <itemref idref="preface"/>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
    <itemref idref="ch3"/>
  </spine>
</package>`,
		"OEBPS/cover.xhtml":        chapterDoc("Cover", "<p>cover art</p>"),
		"OEBPS/toc.xhtml":          chapterDoc("Table of Contents", "<p>toc</p>"),
		"OEBPS/preface_page.xhtml": chapterDoc("Preface", "<p>boilerplate</p>"),
		"OEBPS/chapter1.xhtml":     chapterDoc("The Beginning", "<p>First chapter text.</p>"),
		"OEBPS/chapter2.xhtml":     chapterDoc("", "   "),
		"OEBPS/chapter3.xhtml":     chapterDoc("The End", "<p>Last chapter text.</p>"),
		"OEBPS/style.css":          "body { color: black; }",
	})
}

func TestExtractNestedLayout(t *testing.T) {
	t.Parallel()

	chapters, err := Extract(nestedFixture(t))
	require.NoError(t, err)

	require.Len(t, chapters, 2, "non-story items and empty bodies are dropped")
	require.Equal(t, 1, chapters[0].Number)
	require.Equal(t, 2, chapters[1].Number, "numbers are dense over retained chapters")
	require.Equal(t, "The Beginning", chapters[0].Title)
	require.Equal(t, "The End", chapters[1].Title)
	require.Contains(t, chapters[0].HTML, "First chapter text.")
	require.Contains(t, chapters[1].HTML, "Last chapter text.")
}

func TestExtractFlatLayout(t *testing.T) {
	t.Parallel()

	p := writeEpub(t, map[string]string{
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="content.opf"/></rootfiles></container>`,
		"content.opf": `<package>
  <manifest>
    <item id="ch1" href="story.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine><itemref idref="ch1"/></spine>
</package>`,
		"story.xhtml": chapterDoc("Only Chapter", "<p>text</p>"),
	})

	chapters, err := Extract(p)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	require.Equal(t, "Only Chapter", chapters[0].Title)
}

func TestExtractIdempotent(t *testing.T) {
	t.Parallel()

	p := nestedFixture(t)
	first, err := Extract(p)
	require.NoError(t, err)
	second, err := Extract(p)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestExtractMissingContainer(t *testing.T) {
	t.Parallel()

	p := writeEpub(t, map[string]string{"mimetype": "application/epub+zip"})
	_, err := Extract(p)
	var pe *vault.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "container", pe.Stage)
}

func TestExtractMissingManifest(t *testing.T) {
	t.Parallel()

	p := writeEpub(t, map[string]string{
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="gone.opf"/></rootfiles></container>`,
	})
	_, err := Extract(p)
	var pe *vault.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "manifest", pe.Stage)
}

func TestExtractAllFilteredIsZeroChaptersNotError(t *testing.T) {
	t.Parallel()

	p := writeEpub(t, map[string]string{
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="content.opf"/></rootfiles></container>`,
		"content.opf": `<package>
  <manifest>
    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine><itemref idref="cover"/></spine>
</package>`,
		"cover.xhtml": chapterDoc("Cover", "<p>art</p>"),
	})

	chapters, err := Extract(p)
	require.NoError(t, err)
	require.Empty(t, chapters)
}

func TestExtractSynthesizedTitleAndControlStrip(t *testing.T) {
	t.Parallel()

	p := writeEpub(t, map[string]string{
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="content.opf"/></rootfiles></container>`,
		"content.opf": `<package>
  <manifest><item id="ch1" href="story.xhtml"/></manifest>
  <spine><itemref idref="ch1"/></spine>
</package>`,
		"story.xhtml": "<html><body><div class=\"userstuff\"><p>text\x00with\x08controls</p></div></body></html>",
	})

	chapters, err := Extract(p)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	require.Equal(t, "Chapter 1", chapters[0].Title)
	require.NotContains(t, chapters[0].HTML, "\x00")
	require.NotContains(t, chapters[0].HTML, "\x08")
}

func TestExtractNotAZip(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "junk.epub")
	require.NoError(t, os.WriteFile(p, []byte("not a zip"), 0o644))
	_, err := Extract(p)
	var pe *vault.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "archive", pe.Stage)
}
