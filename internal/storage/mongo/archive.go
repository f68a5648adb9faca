// Package mongo archives completed result sets as MongoDB documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

// Config holds connection settings.
type Config struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// Archive stores one document per result set.
type Archive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type recordDoc struct {
	Title                string               `bson:"title"`
	Description          string               `bson:"description"`
	Advertiser           string               `bson:"advertiser"`
	ImageURL             string               `bson:"image_url,omitempty"`
	VideoURL             string               `bson:"video_url,omitempty"`
	DestinationLink      string               `bson:"destination_link,omitempty"`
	CreativeKind         string               `bson:"creative_kind"`
	EstimatedImpressions int64                `bson:"estimated_impressions"`
	EstimatedEngagement  int64                `bson:"estimated_engagement"`
	Niche                string               `bson:"niche"`
	QualityScore         float64              `bson:"quality_score"`
	DedupKey             string               `bson:"dedup_key"`
	LandingPage          *crawler.LandingPage `bson:"landing_page,omitempty"`
}

type resultDoc struct {
	ID          string      `bson:"_id"`
	RunID       string      `bson:"run_id"`
	Label       string      `bson:"label"`
	CompletedAt time.Time   `bson:"completed_at"`
	Records     []recordDoc `bson:"records"`
}

// New connects, pings and ensures the run_id index.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("archive.mongo.uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "adcrawler"
	}
	if cfg.Collection == "" {
		cfg.Collection = "result_sets"
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	a := &Archive{client: client, coll: client.Database(cfg.Database).Collection(cfg.Collection)}
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := a.coll.Indexes().CreateOne(connectCtx, index); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create run_id index: %w", err)
	}
	return a, nil
}

// NewWithCollection wraps an existing collection (primarily for testing).
func NewWithCollection(coll *mongo.Collection) *Archive {
	return &Archive{coll: coll}
}

// Close disconnects the client when the archive owns it.
func (a *Archive) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// SaveResult upserts the result document keyed by result id.
func (a *Archive) SaveResult(ctx context.Context, result crawler.ResultSet) error {
	doc := toDoc(result)
	opts := options.Replace().SetUpsert(true)
	if _, err := a.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("upsert result %s: %w", result.ID, err)
	}
	return nil
}

// LoadResult fetches a result document by id.
func (a *Archive) LoadResult(ctx context.Context, resultID string) (crawler.ResultSet, error) {
	return a.findOne(ctx, bson.M{"_id": resultID})
}

// LoadResultByRun fetches the result document of a run.
func (a *Archive) LoadResultByRun(ctx context.Context, runID string) (crawler.ResultSet, error) {
	return a.findOne(ctx, bson.M{"run_id": runID})
}

func (a *Archive) findOne(ctx context.Context, filter bson.M) (crawler.ResultSet, error) {
	var doc resultDoc
	err := a.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return crawler.ResultSet{}, fmt.Errorf("result %v: %w", filter, store.ErrNotFound)
	}
	if err != nil {
		return crawler.ResultSet{}, fmt.Errorf("find result: %w", err)
	}
	return fromDoc(doc), nil
}

func toDoc(rs crawler.ResultSet) resultDoc {
	doc := resultDoc{
		ID:          rs.ID,
		RunID:       rs.RunID,
		Label:       rs.Label,
		CompletedAt: rs.CompletedAt,
		Records:     make([]recordDoc, 0, len(rs.Records)),
	}
	for _, r := range rs.Records {
		doc.Records = append(doc.Records, recordDoc{
			Title:                r.Title,
			Description:          r.Description,
			Advertiser:           r.Advertiser,
			ImageURL:             r.ImageURL,
			VideoURL:             r.VideoURL,
			DestinationLink:      r.DestinationLink,
			CreativeKind:         string(r.CreativeKind),
			EstimatedImpressions: r.EstimatedImpressions,
			EstimatedEngagement:  r.EstimatedEngagement,
			Niche:                r.Niche,
			QualityScore:         r.QualityScore,
			DedupKey:             r.DedupKey,
			LandingPage:          r.LandingPage,
		})
	}
	return doc
}

func fromDoc(doc resultDoc) crawler.ResultSet {
	rs := crawler.ResultSet{
		ID:          doc.ID,
		RunID:       doc.RunID,
		Label:       doc.Label,
		CompletedAt: doc.CompletedAt,
		Records:     make([]crawler.ScoredRecord, 0, len(doc.Records)),
	}
	for _, r := range doc.Records {
		rs.Records = append(rs.Records, crawler.ScoredRecord{
			CandidateRecord: crawler.CandidateRecord{
				Title:                r.Title,
				Description:          r.Description,
				Advertiser:           r.Advertiser,
				ImageURL:             r.ImageURL,
				VideoURL:             r.VideoURL,
				DestinationLink:      r.DestinationLink,
				CreativeKind:         crawler.CreativeKind(r.CreativeKind),
				EstimatedImpressions: r.EstimatedImpressions,
				EstimatedEngagement:  r.EstimatedEngagement,
				Niche:                r.Niche,
				LandingPage:          r.LandingPage,
			},
			QualityScore: r.QualityScore,
			DedupKey:     r.DedupKey,
		})
	}
	return rs
}
