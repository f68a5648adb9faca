package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
)

// MultiArchive writes result sets to every archive and reads from the first
// archive that has them.
type MultiArchive struct {
	archives []crawler.ResultArchive
}

// NewMultiArchive composes archives in priority order. Nil entries are skipped.
func NewMultiArchive(archives ...crawler.ResultArchive) *MultiArchive {
	m := &MultiArchive{}
	for _, a := range archives {
		if a != nil {
			m.archives = append(m.archives, a)
		}
	}
	return m
}

// Len reports how many archives are composed.
func (m *MultiArchive) Len() int {
	return len(m.archives)
}

// SaveResult writes to all archives; the first failure is returned.
func (m *MultiArchive) SaveResult(ctx context.Context, result crawler.ResultSet) error {
	for i, a := range m.archives {
		if err := a.SaveResult(ctx, result); err != nil {
			metrics.ObserveArchiveWrite(false)
			return fmt.Errorf("archive %d save %s: %w", i, result.ID, err)
		}
	}
	metrics.ObserveArchiveWrite(true)
	return nil
}

// LoadResult returns the first archive hit.
func (m *MultiArchive) LoadResult(ctx context.Context, resultID string) (crawler.ResultSet, error) {
	return m.load(func(a crawler.ResultArchive) (crawler.ResultSet, error) {
		return a.LoadResult(ctx, resultID)
	})
}

// LoadResultByRun returns the first archive hit for a run.
func (m *MultiArchive) LoadResultByRun(ctx context.Context, runID string) (crawler.ResultSet, error) {
	return m.load(func(a crawler.ResultArchive) (crawler.ResultSet, error) {
		return a.LoadResultByRun(ctx, runID)
	})
}

func (m *MultiArchive) load(get func(crawler.ResultArchive) (crawler.ResultSet, error)) (crawler.ResultSet, error) {
	var errs []error
	for _, a := range m.archives {
		rs, err := get(a)
		if err == nil {
			return rs, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return crawler.ResultSet{}, errors.Join(errs...)
	}
	return crawler.ResultSet{}, ErrNotFound
}
