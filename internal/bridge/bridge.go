package bridge

import (
	"log"
	"sort"
	"sync"
	"time"

	"control_room/internal/domain"
)

const DefaultWindow = 100 * time.Millisecond

type Subscriber interface {
	Subscribe(name string) (<-chan domain.Event, func())
}

// Applier is the write surface of the observer store.
type Applier interface {
	ApplySnapshot(state domain.State)
	ApplyTick(patch domain.TickPatch)
}

type Stats struct {
	Snapshots int64 `json:"snapshots"`
	Ticks     int64 `json:"ticks"`
	Dropped   int64 `json:"dropped"`
	Flushes   int64 `json:"flushes"`
}

// aggregator holds the ticks absorbed since the last flush.
type aggregator struct {
	latestTick int64
	items      map[string]domain.ItemPatch
	agents     map[string]domain.AgentPatch
	metrics    *domain.MetricsPatch
}

func newAggregator() *aggregator {
	a := &aggregator{}
	a.clear()
	return a
}

func (a *aggregator) clear() {
	a.latestTick = 0
	a.items = make(map[string]domain.ItemPatch)
	a.agents = make(map[string]domain.AgentPatch)
	a.metrics = nil
}

func (a *aggregator) empty() bool {
	return a.latestTick == 0
}

// absorb merges a tick into the window. It reports false when the tick is
// not newer than what the window already holds.
func (a *aggregator) absorb(ev domain.Event) bool {
	if ev.TickID <= a.latestTick {
		return false
	}
	a.latestTick = ev.TickID
	for _, p := range ev.Items {
		if p.ID == "" {
			continue
		}
		a.items[p.ID] = a.items[p.ID].Merge(p)
	}
	for _, p := range ev.Agents {
		if p.ID == "" {
			continue
		}
		a.agents[p.ID] = a.agents[p.ID].Merge(p)
	}
	if ev.Metrics != nil {
		merged := *ev.Metrics
		if a.metrics != nil {
			merged = a.metrics.Merge(*ev.Metrics)
		}
		a.metrics = &merged
	}
	return true
}

func (a *aggregator) patch() domain.TickPatch {
	out := domain.TickPatch{TickID: a.latestTick, Metrics: a.metrics}
	if len(a.items) > 0 {
		out.Items = make([]domain.ItemPatch, 0, len(a.items))
		for _, p := range a.items {
			out.Items = append(out.Items, p)
		}
		sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
	}
	if len(a.agents) > 0 {
		out.Agents = make([]domain.AgentPatch, 0, len(a.agents))
		for _, p := range a.agents {
			out.Agents = append(out.Agents, p)
		}
		sort.Slice(out.Agents, func(i, j int) bool { return out.Agents[i].ID < out.Agents[j].ID })
	}
	return out
}

// Bridge coalesces engine ticks into at most one store write per window.
// Snapshots bypass the window and discard whatever was pending.
type Bridge struct {
	store  Applier
	window time.Duration
	logger *log.Logger
	debug  bool

	unsubscribe func()
	stop        chan struct{}
	once        sync.Once
	wg          sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

type Options struct {
	Window time.Duration
	Name   string
	Logger *log.Logger
	Debug  bool
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Name == "" {
		o.Name = "bridge"
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

func Attach(stream Subscriber, store Applier, opts Options) *Bridge {
	opts = opts.withDefaults()
	events, unsubscribe := stream.Subscribe(opts.Name)
	b := &Bridge{
		store:       store,
		window:      opts.Window,
		logger:      opts.Logger,
		debug:       opts.Debug,
		unsubscribe: unsubscribe,
		stop:        make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop(events)
	return b
}

func (b *Bridge) loop(events <-chan domain.Event) {
	defer b.wg.Done()

	agg := newAggregator()
	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerC = nil
	}
	defer stopTimer()

	for {
		select {
		case <-b.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case domain.EventTypeSnapshot:
				stopTimer()
				agg.clear()
				if ev.State == nil {
					continue
				}
				b.debugf("bridge apply snapshot run=%s", ev.State.RunID)
				b.store.ApplySnapshot(*ev.State)
				b.count(func(s *Stats) { s.Snapshots++ })
			case domain.EventTypeTick:
				if !agg.absorb(ev) {
					b.debugf("bridge drop tick=%d latest=%d", ev.TickID, agg.latestTick)
					b.count(func(s *Stats) { s.Dropped++ })
					continue
				}
				b.count(func(s *Stats) { s.Ticks++ })
				if timer == nil {
					timer = time.NewTimer(b.window)
					timerC = timer.C
				}
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if agg.empty() {
				continue
			}
			patch := agg.patch()
			b.debugf("bridge apply tick=%d items=%d agents=%d metrics=%t", patch.TickID, len(patch.Items), len(patch.Agents), patch.Metrics != nil)
			b.store.ApplyTick(patch)
			agg.clear()
			b.count(func(s *Stats) { s.Flushes++ })
		}
	}
}

// Destroy detaches the bridge. No store write happens after it returns.
// Safe to call more than once.
func (b *Bridge) Destroy() {
	b.once.Do(func() {
		close(b.stop)
		b.unsubscribe()
		b.wg.Wait()
	})
}

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}

func (b *Bridge) debugf(format string, args ...any) {
	if !b.debug {
		return
	}
	b.logger.Printf(format, args...)
}
