package extract

import "github.com/Lunyoo/adlibrary-crawler/internal/crawler"

// Simulated reach ranges. The Ad Library does not publish reach for most
// commercial ads, so these stand in until a measured source is wired.
const (
	MinEngagement  = 250
	MaxEngagement  = 15000
	MinImpressions = 10000
	MaxImpressions = 100000
)

// Seeder derives a stable 64-bit value from strings; the sha256 Hasher
// implements it.
type Seeder interface {
	Seed(parts ...string) uint64
}

// HashEstimator simulates reach from a digest of the record's identity, so
// the same ad always gets the same estimate.
type HashEstimator struct {
	seeder Seeder
}

// NewHashEstimator builds an estimator over seeder.
func NewHashEstimator(seeder Seeder) *HashEstimator {
	return &HashEstimator{seeder: seeder}
}

// Estimate implements crawler.Estimator.
func (e *HashEstimator) Estimate(c crawler.CandidateRecord) crawler.Estimates {
	seed := e.seeder.Seed(c.Advertiser, c.Title, c.SearchTerm, c.Region)
	return crawler.Estimates{
		Engagement:  spread(seed, MinEngagement, MaxEngagement),
		Impressions: spread(seed>>32|seed<<32, MinImpressions, MaxImpressions),
	}
}

func spread(seed uint64, lo, hi int64) int64 {
	return lo + int64(seed%uint64(hi-lo+1))
}
