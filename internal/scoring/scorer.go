// Package scoring computes deterministic quality scores for extracted ads and
// collapses, filters and ranks them into a result set.
package scoring

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

// Heuristic weights. Scores are clamped to [0, 1].
const (
	WeightTitleBand      = 0.2
	WeightWordCount      = 0.1
	WeightVocabularyTerm = 0.05
	WeightCallToAction   = 0.1
	WeightVideo          = 0.3
	WeightImage          = 0.2
	WeightEngagement     = 0.2

	TitleMinRunes       = 11
	TitleMaxRunes       = 150
	MinWords            = 3
	EngagementThreshold = 800

	// DedupPrefixRunes is how much of the normalized title identifies an ad.
	DedupPrefixRunes = 50
)

// Engine scores and ranks candidates. It is safe for concurrent use.
type Engine struct {
	vocab Vocabulary
}

// New builds an Engine over vocab. Empty lists fall back to the defaults.
func New(vocab Vocabulary) *Engine {
	defaults := DefaultVocabulary()
	if len(vocab.HighConversion) == 0 {
		vocab.HighConversion = defaults.HighConversion
	}
	if len(vocab.CallsToAction) == 0 {
		vocab.CallsToAction = defaults.CallsToAction
	}
	return &Engine{vocab: vocab.normalized()}
}

// Score returns the quality score of one candidate.
func (e *Engine) Score(c crawler.CandidateRecord) float64 {
	score := 0.0

	title := strings.TrimSpace(c.Title)
	if n := utf8.RuneCountInString(title); n >= TitleMinRunes && n <= TitleMaxRunes {
		score += WeightTitleBand
	}
	if len(strings.Fields(title)) >= MinWords {
		score += WeightWordCount
	}

	text := strings.ToLower(c.Title + " " + c.Description)
	for _, term := range e.vocab.HighConversion {
		if strings.Contains(text, term) {
			score += WeightVocabularyTerm
		}
	}
	for _, cta := range e.vocab.CallsToAction {
		if strings.Contains(text, cta) {
			score += WeightCallToAction
			break
		}
	}

	switch c.CreativeKind {
	case crawler.CreativeVideo:
		score += WeightVideo
	case crawler.CreativeImage:
		score += WeightImage
	}
	if c.EstimatedEngagement > EngagementThreshold {
		score += WeightEngagement
	}

	return clamp(math.Round(score*100) / 100)
}

// DedupKey derives the canonical identity of a candidate from its advertiser
// and the first DedupPrefixRunes runes of its normalized title.
func DedupKey(c crawler.CandidateRecord) string {
	title := []rune(normalize(c.Title))
	if len(title) > DedupPrefixRunes {
		title = title[:DedupPrefixRunes]
	}
	return normalize(c.Advertiser) + "|" + string(title)
}

// ScoreAndRank scores every candidate, keeps the best record per dedup key
// (first seen wins ties), drops records below minScore and returns the rest
// sorted by descending score, stable on first-seen order, truncated to limit.
// A non-positive limit means no truncation.
func (e *Engine) ScoreAndRank(candidates []crawler.CandidateRecord, minScore float64, limit int) []crawler.ScoredRecord {
	index := make(map[string]int, len(candidates))
	kept := make([]crawler.ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		rec := crawler.ScoredRecord{
			CandidateRecord: c,
			QualityScore:    e.Score(c),
			DedupKey:        DedupKey(c),
		}
		if i, seen := index[rec.DedupKey]; seen {
			if rec.QualityScore > kept[i].QualityScore {
				kept[i] = rec
			}
			continue
		}
		index[rec.DedupKey] = len(kept)
		kept = append(kept, rec)
	}

	ranked := kept[:0]
	for _, rec := range kept {
		if rec.QualityScore >= minScore {
			ranked = append(ranked, rec)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QualityScore > ranked[j].QualityScore
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
