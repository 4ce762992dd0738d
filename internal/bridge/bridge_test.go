package bridge

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"control_room/internal/domain"
)

type fakeStream struct {
	ch     chan domain.Event
	mu     sync.Mutex
	unsubs int
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan domain.Event, 32)}
}

func (f *fakeStream) Subscribe(string) (<-chan domain.Event, func()) {
	return f.ch, func() {
		f.mu.Lock()
		f.unsubs++
		f.mu.Unlock()
	}
}

type fakeStore struct {
	mu        sync.Mutex
	snapshots []domain.State
	ticks     []domain.TickPatch
}

func (f *fakeStore) ApplySnapshot(state domain.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, state)
}

func (f *fakeStore) ApplyTick(patch domain.TickPatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, patch)
}

func (f *fakeStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots), len(f.ticks)
}

func quietOptions(window time.Duration) Options {
	return Options{Window: window, Logger: log.New(io.Discard, "", 0)}
}

func tokensTick(id int64, item string, tokens float64) domain.Event {
	return domain.Event{
		Type:   domain.EventTypeTick,
		TickID: id,
		Items:  []domain.ItemPatch{{ID: item, TokensDone: &tokens}},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAggregatorDropsStaleTicksAndMergesFields(t *testing.T) {
	agg := newAggregator()
	status := domain.ItemStatusInProgress
	first := tokensTick(3, "X", 1)
	first.Items[0].Status = &status
	metricsTPS := 5.0
	first.Metrics = &domain.MetricsPatch{LiveTPS: &metricsTPS}

	accepted := []bool{
		agg.absorb(first),
		agg.absorb(tokensTick(1, "X", 9)),
		agg.absorb(tokensTick(2, "Y", 9)),
		agg.absorb(tokensTick(4, "X", 2)),
	}
	want := []bool{true, false, false, true}
	for i := range want {
		if accepted[i] != want[i] {
			t.Fatalf("absorb #%d = %v, want %v", i, accepted[i], want[i])
		}
	}

	patch := agg.patch()
	if patch.TickID != 4 || len(patch.Items) != 1 {
		t.Fatalf("unexpected patch %+v", patch)
	}
	x := patch.Items[0]
	if x.ID != "X" || x.Status == nil || *x.Status != domain.ItemStatusInProgress || *x.TokensDone != 2 {
		t.Fatalf("fields were not merged last-write-wins: %+v", x)
	}
	if patch.Metrics == nil || *patch.Metrics.LiveTPS != 5 {
		t.Fatalf("metrics lost in merge: %+v", patch.Metrics)
	}

	agg.clear()
	if !agg.empty() || !agg.absorb(tokensTick(1, "X", 1)) {
		t.Fatalf("clear should reset the window")
	}
}

func TestAggregatorSortsAgents(t *testing.T) {
	agg := newAggregator()
	released := true
	agg.absorb(domain.Event{Type: domain.EventTypeTick, TickID: 1, Agents: []domain.AgentPatch{
		{ID: "agent-B", Released: &released},
		{ID: "agent-A"},
	}})
	patch := agg.patch()
	if len(patch.Agents) != 2 || patch.Agents[0].ID != "agent-A" || !patch.Agents[1].IsRelease() {
		t.Fatalf("unexpected agents %+v", patch.Agents)
	}
}

func TestBridgeFlushesOncePerWindow(t *testing.T) {
	stream := newFakeStream()
	store := &fakeStore{}
	b := Attach(stream, store, quietOptions(40*time.Millisecond))
	defer b.Destroy()

	for _, id := range []int64{3, 1, 2, 4} {
		stream.ch <- tokensTick(id, "X", float64(id))
	}
	waitFor(t, func() bool {
		_, ticks := store.counts()
		return ticks == 1
	})
	time.Sleep(80 * time.Millisecond)

	store.mu.Lock()
	ticks := append([]domain.TickPatch(nil), store.ticks...)
	store.mu.Unlock()
	if len(ticks) != 1 {
		t.Fatalf("expected one flush, got %d", len(ticks))
	}
	if ticks[0].TickID != 4 || *ticks[0].Items[0].TokensDone != 4 {
		t.Fatalf("unexpected flush %+v", ticks[0])
	}
	stats := b.Stats()
	if stats.Dropped != 2 || stats.Ticks != 2 || stats.Flushes != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSnapshotDiscardsPendingTicks(t *testing.T) {
	stream := newFakeStream()
	store := &fakeStore{}
	b := Attach(stream, store, quietOptions(150*time.Millisecond))
	defer b.Destroy()

	stream.ch <- tokensTick(1, "X", 1)
	stream.ch <- tokensTick(2, "X", 2)
	stream.ch <- domain.SnapshotEvent(domain.State{RunID: "run-1", Plan: "Test"})
	waitFor(t, func() bool {
		snaps, _ := store.counts()
		return snaps == 1
	})
	time.Sleep(250 * time.Millisecond)

	if _, ticks := store.counts(); ticks != 0 {
		t.Fatalf("ticks buffered before the snapshot must be discarded, got %d flushes", ticks)
	}
	store.mu.Lock()
	runID := store.snapshots[0].RunID
	store.mu.Unlock()
	if runID != "run-1" {
		t.Fatalf("unexpected snapshot run %q", runID)
	}

	stream.ch <- tokensTick(1, "X", 3)
	waitFor(t, func() bool {
		_, ticks := store.counts()
		return ticks == 1
	})
}

func TestDestroyStopsWrites(t *testing.T) {
	stream := newFakeStream()
	store := &fakeStore{}
	b := Attach(stream, store, quietOptions(50*time.Millisecond))

	stream.ch <- tokensTick(1, "X", 1)
	waitFor(t, func() bool { return b.Stats().Ticks == 1 })
	b.Destroy()
	b.Destroy()

	stream.ch <- domain.SnapshotEvent(domain.State{RunID: "late"})
	time.Sleep(120 * time.Millisecond)

	snaps, ticks := store.counts()
	if snaps != 0 || ticks != 0 {
		t.Fatalf("store written after destroy: snapshots=%d ticks=%d", snaps, ticks)
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.unsubs != 1 {
		t.Fatalf("expected exactly one unsubscribe, got %d", stream.unsubs)
	}
}
