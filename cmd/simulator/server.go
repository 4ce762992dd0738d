package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"control_room/internal/bridge"
	"control_room/internal/config"
	"control_room/internal/domain"
	"control_room/internal/engine"
	journal "control_room/internal/journal/sqlite"
	"control_room/internal/plans"
	"control_room/internal/store"
)

type intentApplier interface {
	Apply(ctx context.Context, intent domain.Intent) error
}

type statsSource interface {
	Stats() bridge.Stats
}

type app struct {
	cfg      config.Config
	registry *plans.Registry
	engine   intentApplier
	store    *store.Store
	bridge   statsSource
	journal  *journal.Store
	logger   *log.Logger
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/plans", a.handlePlans)
	mux.HandleFunc("/state", a.handleState)
	mux.HandleFunc("/intents", a.handleIntents)
	mux.HandleFunc("/runs", a.handleRuns)
	mux.HandleFunc("/runs/", a.handleRunByID)
	return loggingMiddleware(a.logger, mux)
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path":      a.cfg.Path,
		"simulator": a.cfg.Simulator,
		"raw":       a.cfg.Raw,
	})
}

type planView struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Items       int               `json:"items"`
	Groups      []domain.GroupDef `json:"groups"`
	Default     bool              `json:"default"`
}

func (a *app) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	views := make([]planView, 0, len(a.registry.Names()))
	for _, def := range a.registry.All() {
		items, err := plans.BuildItems(def)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		views = append(views, planView{
			Name:        def.Name,
			Description: def.Description,
			Items:       len(def.Items),
			Groups:      plans.Groups(def, items),
			Default:     def.Name == a.registry.Default(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type stateView struct {
	State      domain.State          `json:"state"`
	LastTickID int64                 `json:"last_tick_id"`
	Version    uint64                `json:"version"`
	Groups     []store.GroupProgress `json:"groups"`
	Bridge     bridge.Stats          `json:"bridge"`
}

func (a *app) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := a.store.State()
	view := stateView{
		State:      st,
		LastTickID: a.store.LastTickID(),
		Version:    a.store.Version(),
		Groups:     []store.GroupProgress{},
	}
	if def, ok := a.registry.Get(st.Plan); ok {
		view.Groups = a.store.GroupProgress(plans.Groups(def, st.Items))
	}
	if a.bridge != nil {
		view.Bridge = a.bridge.Stats()
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *app) handleIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var intent domain.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	switch intent.Type {
	case domain.IntentSetRunning, domain.IntentSetSeed, domain.IntentSetSpeed, domain.IntentRequestSnapshot:
	case domain.IntentSetPlan:
		if intent.Plan == nil || strings.TrimSpace(*intent.Plan) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("plan is required"))
			return
		}
		if _, ok := a.registry.Get(*intent.Plan); !ok {
			writeError(w, http.StatusNotFound, &plans.UnknownPlanError{Name: *intent.Plan})
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown intent type: %q", intent.Type))
		return
	}

	err := a.engine.Apply(r.Context(), intent)
	var cycleErr *engine.CycleError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "type": intent.Type})
	case errors.As(err, &cycleErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"cycles": cycleErr.Cycles,
		})
	case errors.Is(err, engine.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *app) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, errJournalDisabled)
		return
	}
	runs, err := a.journal.ListRuns(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

var errJournalDisabled = errors.New("journal is disabled; set journal_path to enable it")

func (a *app) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, errJournalDisabled)
		return
	}
	trimmed := strings.TrimPrefix(r.URL.Path, "/runs/")
	parts := strings.Split(trimmed, "/")
	runID := parts[0]
	if runID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("run id is required"))
		return
	}

	if len(parts) == 1 {
		run, err := a.journal.GetRun(r.Context(), runID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	switch action := parts[1]; action {
	case "events":
		if _, err := a.journal.GetRun(r.Context(), runID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		after := int64(queryInt(r, "after", 0))
		entries, err := a.journal.ListEvents(r.Context(), runID, after, queryInt(r, "limit", 500))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	case "replay":
		replayed := store.New()
		n, err := a.journal.Replay(r.Context(), runID, replayed)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"events":       n,
			"state":        replayed.State(),
			"last_tick_id": replayed.LastTickID(),
		})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func statusFor(err error) int {
	if errors.Is(err, journal.ErrRunNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
