// Package blob archives result sets as JSON documents in a BlobStore
// (memory, local filesystem or GCS).
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

const contentType = "application/json"

// Archive implements crawler.ResultArchive on top of a BlobStore.
type Archive struct {
	blobs  crawler.BlobStore
	logger *zap.Logger
}

// runPointer maps a run id to its result id.
type runPointer struct {
	ResultID string `json:"result_id"`
}

// New wraps blobs as a result archive.
func New(blobs crawler.BlobStore, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{blobs: blobs, logger: logger}
}

// SaveResult writes the result document, then the run pointer.
func (a *Archive) SaveResult(ctx context.Context, result crawler.ResultSet) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, resultPath(result.ID), contentType, doc)
	if err != nil {
		return fmt.Errorf("put result: %w", err)
	}
	ptr, err := json.Marshal(runPointer{ResultID: result.ID})
	if err != nil {
		return fmt.Errorf("marshal run pointer: %w", err)
	}
	if _, err := a.blobs.PutObject(ctx, runPath(result.RunID), contentType, ptr); err != nil {
		return fmt.Errorf("put run pointer: %w", err)
	}
	a.logger.Debug("result exported", zap.String("result_id", result.ID), zap.String("uri", uri))
	return nil
}

// LoadResult reads a result document.
func (a *Archive) LoadResult(ctx context.Context, resultID string) (crawler.ResultSet, error) {
	data, err := a.blobs.GetObject(ctx, resultPath(resultID))
	if err != nil {
		return crawler.ResultSet{}, fmt.Errorf("get result: %w", err)
	}
	var rs crawler.ResultSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return crawler.ResultSet{}, fmt.Errorf("decode result %s: %w", resultID, err)
	}
	return rs, nil
}

// LoadResultByRun follows the run pointer to the result document.
func (a *Archive) LoadResultByRun(ctx context.Context, runID string) (crawler.ResultSet, error) {
	data, err := a.blobs.GetObject(ctx, runPath(runID))
	if err != nil {
		return crawler.ResultSet{}, fmt.Errorf("get run pointer: %w", err)
	}
	var ptr runPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return crawler.ResultSet{}, fmt.Errorf("decode run pointer %s: %w", runID, err)
	}
	return a.LoadResult(ctx, ptr.ResultID)
}

func resultPath(resultID string) string {
	return path.Join("results", resultID+".json")
}

func runPath(runID string) string {
	return path.Join("runs", runID+".json")
}
