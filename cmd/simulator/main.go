package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"control_room/internal/bridge"
	"control_room/internal/config"
	"control_room/internal/engine"
	journal "control_room/internal/journal/sqlite"
	"control_room/internal/messaging/inproc"
	"control_room/internal/plans"
	"control_room/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.control_room/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	journalFlag := flag.String("journal", "", "sqlite journal path override (empty disables the journal)")
	plansFlag := flag.String("plans", "", "extra plan file (.toml, .yaml or .yml)")
	planFlag := flag.String("plan", "", "plan to activate on startup")
	seedFlag := flag.String("seed", "", "seed for the first run (\"auto\" picks a random one)")
	paused := flag.Bool("paused", false, "start with the engine paused")
	debug := flag.Bool("debug", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg = cfg.ApplyEnv(os.LookupEnv).WithDefaults()

	sim := &cfg.Simulator
	sim.Addr = firstNonEmpty(*addrFlag, sim.Addr, config.DefaultAddr)
	sim.JournalPath = firstNonEmpty(*journalFlag, sim.JournalPath)
	sim.PlansPath = firstNonEmpty(*plansFlag, sim.PlansPath)
	sim.DefaultPlan = firstNonEmpty(*planFlag, sim.DefaultPlan, plans.DefaultPlanName)
	sim.DefaultSeed = firstNonEmpty(*seedFlag, sim.DefaultSeed, engine.AutoSeed)
	if *paused {
		running := false
		sim.RunningDefault = &running
	}
	sim.DebugLogs = sim.DebugLogs || *debug

	logger := log.Default()
	registry, err := loadRegistry(*sim, logger)
	if err != nil {
		log.Fatalf("load plans: %v", err)
	}
	sim.DefaultPlan = registry.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var journalStore *journal.Store
	if sim.JournalPath != "" {
		journalPath := filepath.Clean(sim.JournalPath)
		if err := os.MkdirAll(filepath.Dir(journalPath), 0o755); err != nil {
			log.Fatalf("create journal directory: %v", err)
		}
		journalStore, err = journal.Open(journalPath)
		if err != nil {
			log.Fatalf("open sqlite journal: %v", err)
		}
		defer func() {
			_ = journalStore.Close()
		}()
		if err := journalStore.Migrate(ctx); err != nil {
			log.Fatalf("migrate sqlite journal: %v", err)
		}
	}

	stream := inproc.New(256)
	defer stream.Close()
	observer := store.New()
	coalescer := bridge.Attach(stream, observer, bridge.Options{
		Window: sim.FlushInterval(),
		Logger: logger,
		Debug:  sim.DebugLogs,
	})
	defer coalescer.Destroy()

	var recorder *journal.Recorder
	if journalStore != nil {
		recorder = journal.NewRecorder(journalStore, stream, logger)
	}

	eng, err := engine.New(engine.Config{
		TickInterval:  sim.TickInterval(),
		MaxConcurrent: sim.MaxConcurrent,
		CostPerToken:  sim.CostPerTokenUSD,
		Seed:          sim.DefaultSeed,
		Plan:          sim.DefaultPlan,
		Running:       sim.Running(),
		Debug:         sim.DebugLogs,
	}, registry, stream, logger)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}

	a := &app{
		cfg:      cfg,
		registry: registry,
		engine:   eng,
		store:    observer,
		bridge:   coalescer,
		journal:  journalStore,
		logger:   logger,
	}
	server := &http.Server{
		Addr:              sim.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(gctx)
		})
	}
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	})

	logger.Printf(
		"control_room started addr=%s plan=%s seed=%s running=%t tick_hz=%d flush_ms=%d journal=%s",
		sim.Addr,
		sim.DefaultPlan,
		sim.DefaultSeed,
		sim.Running(),
		sim.EngineTickHz,
		sim.StoreFlushIntervalMS,
		firstNonEmpty(sim.JournalPath, "off"),
	)

	if err := g.Wait(); err != nil {
		log.Fatalf("simulator failed: %v", err)
	}
}

func loadRegistry(sim config.SimulatorConfig, logger *log.Logger) (*plans.Registry, error) {
	registry := plans.Builtin()
	if sim.PlansPath != "" {
		defs, err := plans.LoadFile(sim.PlansPath)
		if err != nil {
			return nil, err
		}
		registry, err = registry.With(defs...)
		if err != nil {
			return nil, fmt.Errorf("register plans from %s: %w", sim.PlansPath, err)
		}
		logger.Printf("loaded plans path=%s count=%d", sim.PlansPath, len(defs))
	}
	withDefault, err := registry.WithDefault(sim.DefaultPlan)
	if err != nil {
		logger.Printf("default plan ignored plan=%s: %v", sim.DefaultPlan, err)
		return registry, nil
	}
	return withDefault, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
