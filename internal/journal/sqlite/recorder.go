package sqlite

import (
	"context"
	"log"

	"control_room/internal/domain"
)

type Subscriber interface {
	Subscribe(name string) (<-chan domain.Event, func())
}

// Recorder appends every event seen on a stream to the journal. A snapshot
// carrying an unseen run id opens a new run; ticks go to the current run.
type Recorder struct {
	store       *Store
	logger      *log.Logger
	events      <-chan domain.Event
	unsubscribe func()
}

// NewRecorder subscribes right away so no event published before Run starts
// is missed. Run must be called, or the subscription holds up publishers.
func NewRecorder(store *Store, stream Subscriber, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	events, unsubscribe := stream.Subscribe("journal")
	return &Recorder{store: store, logger: logger, events: events, unsubscribe: unsubscribe}
}

// Run records until ctx is canceled or the stream subscription ends.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsubscribe()

	var current string
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			current = r.record(ctx, current, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, current string, ev domain.Event) string {
	if ev.Type == domain.EventTypeSnapshot && ev.State != nil && ev.State.RunID != current {
		run := Run{ID: ev.State.RunID, Plan: ev.State.Plan, Seed: ev.State.Seed}
		if _, err := r.store.CreateRun(ctx, run); err != nil {
			r.logger.Printf("journal create run failed run=%s: %v", run.ID, err)
			return current
		}
		current = run.ID
	}
	if current == "" {
		return current
	}
	if _, err := r.store.AppendEvent(ctx, current, ev); err != nil {
		r.logger.Printf("journal append failed run=%s type=%s tick=%d: %v", current, ev.Type, ev.TickID, err)
	}
	return current
}
