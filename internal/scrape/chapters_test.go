package scrape

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aovault/aovault/internal/vault"
)

const fullWorkFixture = `<!DOCTYPE html>
<html>
<body>
<div id="workskin">
  <div class="preface group">
    <div class="notes module"><blockquote class="userstuff"><p>Thanks for reading.</p></blockquote></div>
  </div>
  <div id="chapters">
    <div class="chapter" id="chapter-1">
      <h3 class="title"><a href="/works/1/chapters/10">Chapter 1</a>: The Beginning</h3>
      <div class="userstuff module" role="article">
        <p>First chapter text.</p>
      </div>
    </div>
    <div class="chapter" id="chapter-2">
      <h3 class="title"></h3>
      <div class="userstuff module" role="article">
        <p>Second chapter text.</p>
      </div>
    </div>
    <div class="chapter" id="chapter-3">
      <h3 class="title">Empty One</h3>
      <div class="userstuff module" role="article">   </div>
    </div>
    <div class="chapter" id="chapter-4">
      <h3 class="title">Finale</h3>
      <div class="userstuff module" role="article">
        <p>Last chapter text.</p>
      </div>
    </div>
  </div>
  <div id="work_endnotes" class="end notes module"><blockquote class="userstuff"><p>The end.</p></blockquote></div>
</div>
</body>
</html>`

func TestParseChaptersMultiChapter(t *testing.T) {
	t.Parallel()

	content, err := ParseChapters([]byte(fullWorkFixture))
	require.NoError(t, err)

	require.Len(t, content.Chapters, 3, "empty chapter division is dropped")
	require.Equal(t, 1, content.Chapters[0].Number)
	require.Equal(t, 2, content.Chapters[1].Number)
	require.Equal(t, 3, content.Chapters[2].Number, "numbers are dense after the drop")

	require.Contains(t, content.Chapters[0].Title, "The Beginning")
	require.Equal(t, "Chapter 2", content.Chapters[1].Title, "missing heading synthesizes a title")
	require.Equal(t, "Finale", content.Chapters[2].Title)

	require.Contains(t, content.Chapters[0].HTML, "First chapter text.")
	require.Contains(t, content.Chapters[2].HTML, "Last chapter text.")

	require.Contains(t, content.PreNote, "Thanks for reading.")
	require.Contains(t, content.EndNote, "The end.")
}

func TestParseChaptersSingleChapterLayout(t *testing.T) {
	t.Parallel()

	const doc = `<html><body><div id="workskin">
	  <div id="chapters"><div class="userstuff module"><p>Only chapter.</p></div></div>
	</div></body></html>`

	content, err := ParseChapters([]byte(doc))
	require.NoError(t, err)
	require.Len(t, content.Chapters, 1)
	require.Equal(t, 1, content.Chapters[0].Number)
	require.Equal(t, "Chapter 1", content.Chapters[0].Title)
	require.Contains(t, content.Chapters[0].HTML, "Only chapter.")
}

func TestParseChaptersNoContent(t *testing.T) {
	t.Parallel()

	_, err := ParseChapters([]byte("<html><body><p>captcha</p></body></html>"))
	var pe *vault.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "chapters", pe.Stage)
}

func TestParseChaptersStripsControlCharacters(t *testing.T) {
	t.Parallel()

	const doc = "<html><body><div id=\"chapters\"><div class=\"userstuff\"><p>bad\x08byte</p></div></div></body></html>"
	content, err := ParseChapters([]byte(doc))
	require.NoError(t, err)
	require.NotContains(t, content.Chapters[0].HTML, "\x08")
	require.Contains(t, content.Chapters[0].HTML, "badbyte")
}
