package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunQueued Stage = "RUN_QUEUED"
	StageRunStart  Stage = "RUN_START"
	StageUnitDone  Stage = "UNIT_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// UnitOutcome classifies how one (term, region) unit ended.
type UnitOutcome string

// Unit outcomes. Only OK contributes candidates.
const (
	UnitOK      UnitOutcome = "ok"
	UnitTimeout UnitOutcome = "timeout"
	UnitFailed  UnitOutcome = "failed"
)

// Event captures one milestone of a run.
type Event struct {
	// RunID identifies the run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Label is the run's niche.
	Label string
	// Term and Region scope unit events.
	Term   string
	Region string
	// Outcome is set on unit events.
	Outcome UnitOutcome
	// Candidates counts records extracted by the unit.
	Candidates int
	// Skipped counts items the unit could not read.
	Skipped int
	// Dur captures unit or run latency.
	Dur time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunQueued, StageRunStart, StageRunDone, StageRunError:
	case StageUnitDone:
		if e.Term == "" || e.Region == "" {
			return errors.New("unit event requires term and region")
		}
		if e.Outcome == "" {
			return errors.New("unit event requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Candidates < 0 || e.Skipped < 0 {
		return errors.New("durations and counts must be >= 0")
	}
	return nil
}
