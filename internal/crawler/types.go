package crawler

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a scrape run.
type RunStatus string

// Run status values. A run moves Queued -> Running -> {Done, Error}; a run
// that never starts may go straight from Queued to Error.
const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusError   RunStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusError
}

// CanTransition reports whether moving from s to next is legal.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return next == RunStatusRunning || next == RunStatusError
	case RunStatusRunning:
		return next == RunStatusRunning || next == RunStatusDone || next == RunStatusError
	default:
		return false
	}
}

// Run is the observable state of one job execution.
type Run struct {
	ID           string     `json:"run_id"`
	Status       RunStatus  `json:"status"`
	Current      int        `json:"current"`
	Total        int        `json:"total"`
	Found        int        `json:"found"`
	Label        string     `json:"label"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ResultID     string     `json:"result_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// SameProgress reports whether two snapshots are indistinguishable to an
// observer of progress.
func (r Run) SameProgress(other Run) bool {
	return r.Status == other.Status &&
		r.Current == other.Current &&
		r.Total == other.Total &&
		r.Found == other.Found &&
		r.ErrorMessage == other.ErrorMessage &&
		r.ResultID == other.ResultID
}

// CreativeKind classifies the media of an extracted item.
type CreativeKind string

// Creative kinds, ordered by scoring weight.
const (
	CreativeVideo CreativeKind = "video"
	CreativeImage CreativeKind = "image"
	CreativeText  CreativeKind = "text"
)

// KindFor derives the creative kind from the media references present.
func KindFor(imageURL, videoURL string) CreativeKind {
	switch {
	case videoURL != "":
		return CreativeVideo
	case imageURL != "":
		return CreativeImage
	default:
		return CreativeText
	}
}

// LandingPage summarizes the destination page of an item.
type LandingPage struct {
	URL             string `json:"url"`
	Title           string `json:"title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
	HasForm         bool   `json:"has_form"`
	HasVideo        bool   `json:"has_video"`
	LinkCount       int    `json:"link_count"`
	ImageCount      int    `json:"image_count"`
}

// CandidateRecord holds the raw fields read from one extracted item.
type CandidateRecord struct {
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	Advertiser           string       `json:"advertiser"`
	ImageURL             string       `json:"image_url,omitempty"`
	VideoURL             string       `json:"video_url,omitempty"`
	DestinationLink      string       `json:"destination_link,omitempty"`
	CreativeKind         CreativeKind `json:"creative_kind"`
	EstimatedImpressions int64        `json:"estimated_impressions"`
	EstimatedEngagement  int64        `json:"estimated_engagement"`
	Niche                string       `json:"niche"`
	LandingPage          *LandingPage `json:"landing_page,omitempty"`
	SearchTerm           string       `json:"-"`
	Region               string       `json:"-"`
}

// ScoredRecord is a candidate with its quality score and dedup identity.
type ScoredRecord struct {
	CandidateRecord
	QualityScore float64 `json:"quality_score"`
	DedupKey     string  `json:"-"`
}

// ResultSet is the ranked output of a completed run.
type ResultSet struct {
	ID          string         `json:"result_id"`
	RunID       string         `json:"run_id"`
	Label       string         `json:"label"`
	Records     []ScoredRecord `json:"records"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (rs ResultSet) Clone() ResultSet {
	out := rs
	out.Records = make([]ScoredRecord, len(rs.Records))
	for i, rec := range rs.Records {
		if rec.LandingPage != nil {
			lp := *rec.LandingPage
			rec.LandingPage = &lp
		}
		out.Records[i] = rec
	}
	return out
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses runs of non-alphanumerics to "-".
func Slug(s string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "results"
	}
	return slug
}

// ResultID derives the result identifier from the label and completion time.
// The run suffix disambiguates runs of one label completing in the same second.
func ResultID(label string, completedAt time.Time, runID string) string {
	suffix := strings.TrimPrefix(runID, "run_")
	suffix = strings.ReplaceAll(suffix, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("%s_%d_%s", Slug(label), completedAt.Unix(), suffix)
}

// JobRequest describes one scrape job.
type JobRequest struct {
	Terms       []string `json:"terms" mapstructure:"terms"`
	Label       string   `json:"label" mapstructure:"label"`
	Regions     []string `json:"regions,omitempty" mapstructure:"regions"`
	ResultLimit int      `json:"result_limit,omitempty" mapstructure:"result_limit"`
}

// Normalize trims inputs, drops blanks and applies defaults.
func (r JobRequest) Normalize(defaultRegion string, defaultLimit int) JobRequest {
	out := JobRequest{
		Label:       strings.TrimSpace(r.Label),
		ResultLimit: r.ResultLimit,
	}
	for _, term := range r.Terms {
		if t := strings.TrimSpace(term); t != "" {
			out.Terms = append(out.Terms, t)
		}
	}
	for _, region := range r.Regions {
		if reg := strings.ToUpper(strings.TrimSpace(region)); reg != "" {
			out.Regions = append(out.Regions, reg)
		}
	}
	if len(out.Regions) == 0 && defaultRegion != "" {
		out.Regions = []string{defaultRegion}
	}
	if out.ResultLimit <= 0 {
		out.ResultLimit = defaultLimit
	}
	if out.Label == "" && len(out.Terms) > 0 {
		out.Label = out.Terms[0]
	}
	return out
}

// Validate checks a normalized request.
func (r JobRequest) Validate() error {
	if len(r.Terms) == 0 {
		return fmt.Errorf("%w: at least one term is required", ErrInvalidRequest)
	}
	if len(r.Regions) == 0 {
		return fmt.Errorf("%w: at least one region is required", ErrInvalidRequest)
	}
	if r.ResultLimit <= 0 {
		return fmt.Errorf("%w: result_limit must be > 0", ErrInvalidRequest)
	}
	return nil
}

// Units returns the total number of (term, region) work units.
func (r JobRequest) Units() int {
	return len(r.Terms) * len(r.Regions)
}

// Features is the record shape sent to the ML collaborator.
type Features struct {
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	Advertiser           string       `json:"advertiser"`
	ImageURL             string       `json:"image_url,omitempty"`
	VideoURL             string       `json:"video_url,omitempty"`
	DestinationLink      string       `json:"destination_link,omitempty"`
	CreativeKind         CreativeKind `json:"creative_kind"`
	EstimatedImpressions int64        `json:"estimated_impressions"`
	EstimatedEngagement  int64        `json:"estimated_engagement"`
	Niche                string       `json:"niche"`
}

// FeaturesOf strips the engine's own score from a record.
func FeaturesOf(rec ScoredRecord) Features {
	return Features{
		Title:                rec.Title,
		Description:          rec.Description,
		Advertiser:           rec.Advertiser,
		ImageURL:             rec.ImageURL,
		VideoURL:             rec.VideoURL,
		DestinationLink:      rec.DestinationLink,
		CreativeKind:         rec.CreativeKind,
		EstimatedImpressions: rec.EstimatedImpressions,
		EstimatedEngagement:  rec.EstimatedEngagement,
		Niche:                rec.Niche,
	}
}

// Prediction is the ML collaborator's verdict for one record.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// TrainReport summarizes a training call.
type TrainReport struct {
	Accuracy    *float64 `json:"accuracy,omitempty"`
	ErrorMetric *float64 `json:"error_metric,omitempty"`
	Samples     int      `json:"samples"`
}

// Estimates are simulated or measured reach metrics for a candidate.
type Estimates struct {
	Impressions int64
	Engagement  int64
}
