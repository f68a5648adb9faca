package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	candidates int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.candidates += evt.Candidates
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting unit events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	for _, region := range []string{"BR", "PT"} {
		hub.Emit(Event{
			RunID:      "run_example",
			TS:         time.Unix(0, 0),
			Stage:      StageUnitDone,
			Term:       "emagrecer",
			Region:     region,
			Outcome:    UnitOK,
			Candidates: 12,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("candidates extracted: %d\n", sink.candidates)
	// Output:
	// candidates extracted: 24
}
