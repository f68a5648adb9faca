package extract

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/listing.html")
	require.NoError(t, err)
	return string(data)
}

func TestExtractorReadsListing(t *testing.T) {
	t.Parallel()

	e := NewAdLibraryExtractor(0)
	items, err := e.Items(loadFixture(t))
	require.NoError(t, err)
	require.Len(t, items, 4)

	var outcomes []Outcome
	for _, item := range items {
		outcomes = append(outcomes, e.Extract(item, "treino", "BR"))
	}

	first := outcomes[0]
	require.Equal(t, OutcomeRecord, first.Kind)
	require.Equal(t, "Treino em casa GRÁTIS por 7 dias, clique e comece hoje", first.Record.Title)
	require.Equal(t, "Academia Forte", first.Record.Advertiser)
	require.Equal(t, "https://video.example/forte.mp4", first.Record.VideoURL)
	require.Equal(t, crawler.CreativeVideo, first.Record.CreativeKind)
	require.Equal(t, "https://forte.example/oferta", first.Record.DestinationLink)
	require.Equal(t, "treino", first.Record.Niche)
	require.Equal(t, "BR", first.Record.Region)
	require.Contains(t, first.Record.Description, "Saiba mais")

	second := outcomes[1]
	require.Equal(t, OutcomeRecord, second.Kind)
	require.Equal(t, "https://img.example/whey.jpg", second.Record.ImageURL, "data URIs are placeholders")
	require.Equal(t, crawler.CreativeImage, second.Record.CreativeKind)
	require.Empty(t, second.Record.DestinationLink)

	third := outcomes[2]
	require.Equal(t, OutcomeRecord, third.Kind)
	require.Equal(t, "Personal online", third.Record.Title)
	require.Equal(t, UnknownAdvertiser, third.Record.Advertiser)
	require.Equal(t, crawler.CreativeText, third.Record.CreativeKind)

	last := outcomes[3]
	require.Equal(t, OutcomeSkip, last.Kind)
	require.ErrorIs(t, last.Err, crawler.ErrExtractionParse)
}

func TestExtractorFallbackSelectorAndCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := range 40 {
		fmt.Fprintf(&b, "<article><h4>Oferta %d</h4></article>", i)
	}
	b.WriteString("</body></html>")

	items, err := NewAdLibraryExtractor(DefaultMaxItems).Items(b.String())
	require.NoError(t, err)
	require.Len(t, items, DefaultMaxItems)

	items, err = NewAdLibraryExtractor(5).Items(b.String())
	require.NoError(t, err)
	require.Len(t, items, 5)
}

func TestExtractorTruncatesTitle(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ã", 250)
	html := `<div role="article"><h3>` + long + `</h3></div>`
	e := NewAdLibraryExtractor(0)
	items, err := e.Items(html)
	require.NoError(t, err)
	require.Len(t, items, 1)

	out := e.Extract(items[0], "t", "BR")
	require.Equal(t, OutcomeRecord, out.Kind)
	require.Equal(t, 200, len([]rune(out.Record.Title)))
}

func TestOutcomeKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "record", OutcomeRecord.String())
	require.Equal(t, "skip", OutcomeSkip.String())
	require.Equal(t, "fatal", OutcomeFatal.String())
	require.Equal(t, "unknown", OutcomeKind(9).String())
}
