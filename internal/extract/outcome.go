package extract

import "github.com/Lunyoo/adlibrary-crawler/internal/crawler"

// OutcomeKind says what happened to one listing item.
type OutcomeKind int

// Outcome kinds.
const (
	// OutcomeRecord carries an extracted record.
	OutcomeRecord OutcomeKind = iota
	// OutcomeSkip means the item was unreadable; the rest continue.
	OutcomeSkip
	// OutcomeFatal stops processing of the remaining items.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRecord:
		return "record"
	case OutcomeSkip:
		return "skip"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the typed result of extracting one item.
type Outcome struct {
	Kind   OutcomeKind
	Record crawler.CandidateRecord
	Err    error
}

func record(rec crawler.CandidateRecord) Outcome {
	return Outcome{Kind: OutcomeRecord, Record: rec}
}

func skip(err error) Outcome {
	return Outcome{Kind: OutcomeSkip, Err: err}
}

func fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}
