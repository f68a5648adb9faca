package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

// DOM selectors for the Ad Library listing. The class-based advertiser
// selector tracks Facebook's generated CSS and is the first thing to check
// when extraction starts skipping every item.
const (
	itemSelector         = `[role="article"]`
	fallbackItemSelector = `div[data-ad-preview] article, article`
	titleSelector        = `[data-testid="ad-details-text"], div[dir="auto"], div[role="heading"], h3, h4`
	advertiserSelector   = `a[role="link"] span, span.x1lliihq.x6ikm8r`
	imageSelector        = `img, image`
	videoSelector        = `video`
	linkSelector         = `a[href*="l.facebook.com"], a[rel="noopener"]`
)

const (
	// DefaultMaxItems caps how many items one unit reads.
	DefaultMaxItems = 30

	maxTitleRunes       = 200
	maxDescriptionRunes = 1000
	// UnknownAdvertiser stands in when no advertiser name is rendered.
	UnknownAdvertiser = "unknown advertiser"
)

// AdLibraryExtractor reads listing items out of an Ad Library snapshot.
type AdLibraryExtractor struct {
	MaxItems int
}

// NewAdLibraryExtractor returns an extractor capped at maxItems (default 30).
func NewAdLibraryExtractor(maxItems int) *AdLibraryExtractor {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &AdLibraryExtractor{MaxItems: maxItems}
}

// Items parses html and returns at most MaxItems listing item handles.
func (e *AdLibraryExtractor) Items(html string) ([]*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	items := doc.Find(itemSelector)
	if items.Length() == 0 {
		items = doc.Find(fallbackItemSelector)
	}
	limit := e.MaxItems
	if limit <= 0 {
		limit = DefaultMaxItems
	}
	out := make([]*goquery.Selection, 0, min(items.Length(), limit))
	items.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = append(out, s)
		return len(out) < limit
	})
	return out, nil
}

// Extract converts one item into a record. Items without any readable text
// are skipped with ErrExtractionParse.
func (e *AdLibraryExtractor) Extract(item *goquery.Selection, term, region string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = skip(fmt.Errorf("%w: %v", crawler.ErrExtractionParse, r))
		}
	}()

	body := collapse(item.Text())
	title := firstText(item.Find(titleSelector))
	if title == "" {
		title = firstLine(item)
	}
	if title == "" {
		return skip(fmt.Errorf("%w: item has no text", crawler.ErrExtractionParse))
	}

	advertiser := firstText(item.Find(advertiserSelector))
	if advertiser == "" {
		advertiser = UnknownAdvertiser
	}

	imageURL := mediaSource(item.Find(imageSelector))
	videoURL := mediaSource(item.Find(videoSelector))
	link := ""
	if href, ok := item.Find(linkSelector).First().Attr("href"); ok {
		link = unwrapRedirect(strings.TrimSpace(href))
	}

	description := body
	if description == "" {
		description = title
	}

	return record(crawler.CandidateRecord{
		Title:           truncate(title, maxTitleRunes),
		Description:     truncate(description, maxDescriptionRunes),
		Advertiser:      advertiser,
		ImageURL:        imageURL,
		VideoURL:        videoURL,
		DestinationLink: link,
		CreativeKind:    crawler.KindFor(imageURL, videoURL),
		Niche:           term,
		SearchTerm:      term,
		Region:          region,
	})
}

// firstText returns the first non-blank text among sel.
func firstText(sel *goquery.Selection) string {
	var text string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text = collapse(s.Text())
		return text == ""
	})
	return text
}

// firstLine falls back to the item's leading text node run.
func firstLine(item *goquery.Selection) string {
	for _, line := range strings.Split(item.Text(), "\n") {
		if l := collapse(line); l != "" {
			return l
		}
	}
	return ""
}

// mediaSource returns the first usable src, ignoring inline data URIs used
// for placeholders.
func mediaSource(sel *goquery.Selection) string {
	var src string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"src", "href", "poster"} {
			v, ok := s.Attr(attr)
			v = strings.TrimSpace(v)
			if ok && v != "" && !strings.HasPrefix(v, "data:") {
				src = v
				return false
			}
		}
		return true
	})
	return src
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
