package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"control_room/internal/domain"
	"control_room/internal/plans"
)

const AutoSeed = "auto"

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type Config struct {
	TickInterval  time.Duration
	MaxConcurrent int
	CostPerToken  float64
	Seed          string
	Plan          string
	Running       bool
	Speed         float64
	IntentBuffer  int
	Debug         bool
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second / 30
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 12
	}
	if c.CostPerToken <= 0 {
		c.CostPerToken = 0.000002
	}
	if strings.TrimSpace(c.Seed) == "" {
		c.Seed = AutoSeed
	}
	if c.Speed <= 0 || math.IsNaN(c.Speed) || math.IsInf(c.Speed, 0) {
		c.Speed = 1
	}
	if c.IntentBuffer <= 0 {
		c.IntentBuffer = 64
	}
	return c
}

type intentRequest struct {
	intent domain.Intent
	reply  chan error
}

// Engine owns the runtime of the active plan. All state below is touched only
// by the goroutine executing Run; callers talk to it through intents and read
// it through published events.
type Engine struct {
	cfg     Config
	plans   *plans.Registry
	out     Publisher
	logger  *log.Logger
	intents chan intentRequest
	done    chan struct{}

	rt      *runtime
	plan    string
	runID   string
	seed    string
	sampler Sampler
	running bool
	speed   float64
	tickID  int64

	lastItems   map[string]domain.WorkItem
	lastAgents  map[string]domain.Agent
	lastMetrics domain.ProjectMetrics
}

// New builds an engine with the configured plan already activated. A plan
// that fails to build or has dependency cycles is returned as an error.
func New(cfg Config, registry *plans.Registry, out Publisher, logger *log.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if registry == nil {
		registry = plans.Builtin()
	}
	e := &Engine{
		cfg:     cfg,
		plans:   registry,
		out:     out,
		logger:  logger,
		intents: make(chan intentRequest, cfg.IntentBuffer),
		done:    make(chan struct{}),
		running: cfg.Running,
		speed:   cfg.Speed,
	}
	e.setSeed(cfg.Seed)

	planName := cfg.Plan
	if strings.TrimSpace(planName) == "" {
		planName = registry.Default()
	}
	if _, ok := registry.Get(planName); !ok {
		return nil, &plans.UnknownPlanError{Name: planName}
	}
	if err := e.activate(planName); err != nil {
		return nil, err
	}
	return e, nil
}

// Run emits the initial snapshot and then serves intents and ticks until ctx
// is canceled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	var ticker *time.Ticker
	var tickC <-chan time.Time
	syncLoop := func() {
		switch {
		case e.running && ticker == nil:
			e.debugf("engine start loop tick=%s", e.cfg.TickInterval)
			ticker = time.NewTicker(e.cfg.TickInterval)
			tickC = ticker.C
		case !e.running && ticker != nil:
			e.debugf("engine stop loop")
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	e.publishSnapshot(ctx)
	syncLoop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-e.intents:
			err := e.handleIntent(ctx, req.intent)
			if req.reply != nil {
				req.reply <- err
			}
			syncLoop()
		case <-tickC:
			e.tick(ctx)
		}
	}
}

// Submit queues an intent without waiting for it to be processed.
func (e *Engine) Submit(intent domain.Intent) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.intents <- intentRequest{intent: intent}:
		return nil
	default:
		return ErrIntentQueueFull
	}
}

// Apply queues an intent and waits until the engine has processed it. Only
// configuration errors (for example a cyclic plan) are returned; malformed
// intents are ignored by the engine and yield nil.
func (e *Engine) Apply(ctx context.Context, intent domain.Intent) error {
	req := intentRequest{intent: intent, reply: make(chan error, 1)}
	select {
	case e.intents <- req:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handleIntent(ctx context.Context, intent domain.Intent) error {
	switch intent.Type {
	case domain.IntentSetRunning:
		if intent.Running == nil {
			e.debugf("intent ignored type=%s reason=missing running", intent.Type)
			return nil
		}
		e.running = *intent.Running
		e.debugf("intent set_running running=%t", e.running)
		e.publishSnapshot(ctx)
	case domain.IntentSetSeed:
		seed := AutoSeed
		if intent.Seed != nil && strings.TrimSpace(*intent.Seed) != "" {
			seed = strings.TrimSpace(*intent.Seed)
		}
		e.setSeed(seed)
		e.debugf("intent set_seed seed=%s", e.seed)
		e.publishSnapshot(ctx)
	case domain.IntentSetPlan:
		if intent.Plan == nil {
			e.debugf("intent ignored type=%s reason=missing plan", intent.Type)
			return nil
		}
		if _, ok := e.plans.Get(*intent.Plan); !ok {
			e.debugf("intent ignored type=%s reason=unknown plan %q", intent.Type, *intent.Plan)
			return nil
		}
		if err := e.activate(*intent.Plan); err != nil {
			e.logger.Printf("plan activation rejected plan=%s: %v", *intent.Plan, err)
			return err
		}
		e.debugf("intent set_plan plan=%s run=%s", e.plan, e.runID)
		e.publishSnapshot(ctx)
	case domain.IntentSetSpeed:
		if intent.Speed == nil || math.IsNaN(*intent.Speed) || math.IsInf(*intent.Speed, 0) || *intent.Speed <= 0 {
			e.debugf("intent ignored type=%s reason=invalid speed", intent.Type)
			return nil
		}
		e.speed = *intent.Speed
		e.debugf("intent set_speed speed=%v", e.speed)
	case domain.IntentRequestSnapshot:
		e.publishSnapshot(ctx)
	default:
		e.debugf("intent ignored type=%q reason=unknown type", intent.Type)
	}
	return nil
}

func (e *Engine) setSeed(seed string) {
	if seed == AutoSeed {
		seed = uuid.NewString()
	}
	e.seed = seed
	e.sampler = NewSampler(seed)
}

// activate replaces the runtime with a fresh build of the named plan. On any
// error the current runtime stays untouched.
func (e *Engine) activate(name string) error {
	def, ok := e.plans.Get(name)
	if !ok {
		return &plans.UnknownPlanError{Name: name}
	}
	items, err := plans.BuildItems(def)
	if err != nil {
		return fmt.Errorf("activate plan %s: %w", def.Name, err)
	}
	if cycles := DetectCycles(items); len(cycles) > 0 {
		return &CycleError{Plan: def.Name, Cycles: cycles}
	}
	e.rt = newRuntime(items)
	e.plan = def.Name
	e.runID = uuid.NewString()
	return nil
}

// tick runs one simulation step: promotion, dispatch, then progress. A tick
// event is published only when something observable changed.
func (e *Engine) tick(ctx context.Context) {
	e.rt.promote()
	e.rt.dispatch(e.cfg.MaxConcurrent, e.sampler)
	dtMS := float64(e.cfg.TickInterval) / float64(time.Millisecond) * e.speed
	finished := e.rt.advance(dtMS)
	if len(finished) > 0 {
		e.debugf("engine items done ids=%v", finished)
	}

	items, agents := diffState(e.lastItems, e.lastAgents, e.rt)
	metrics := ComputeMetrics(e.rt.items, e.rt.agents, e.cfg.CostPerToken)
	metricsChanged := metrics != e.lastMetrics
	if len(items) == 0 && len(agents) == 0 && !metricsChanged {
		return
	}

	e.tickID++
	ev := domain.Event{
		Type:    domain.EventTypeTick,
		TickID:  e.tickID,
		Items:   items,
		Agents:  agents,
		Metrics: domain.FullMetricsPatch(metrics),
	}
	e.remember(metrics)
	if err := e.out.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Printf("publish tick failed tick=%d: %v", e.tickID, err)
	}
}

func (e *Engine) state() domain.State {
	return domain.State{
		RunID:   e.runID,
		Plan:    e.plan,
		Items:   e.rt.items,
		Agents:  e.rt.agents,
		Metrics: ComputeMetrics(e.rt.items, e.rt.agents, e.cfg.CostPerToken),
		Seed:    e.seed,
		Running: e.running,
		Speed:   e.speed,
	}
}

func (e *Engine) publishSnapshot(ctx context.Context) {
	st := e.state()
	ev := domain.SnapshotEvent(st)
	e.remember(st.Metrics)
	e.debugf("engine snapshot run=%s plan=%s running=%t tick=%d", e.runID, e.plan, e.running, e.tickID)
	if err := e.out.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Printf("publish snapshot failed run=%s: %v", e.runID, err)
	}
}

func (e *Engine) remember(metrics domain.ProjectMetrics) {
	e.lastItems = make(map[string]domain.WorkItem, len(e.rt.items))
	for id, it := range e.rt.items {
		e.lastItems[id] = it.Clone()
	}
	e.lastAgents = maps.Clone(e.rt.agents)
	e.lastMetrics = metrics
}

func (e *Engine) debugf(format string, args ...any) {
	if !e.cfg.Debug {
		return
	}
	e.logger.Printf(format, args...)
}
