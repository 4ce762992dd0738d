package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"control_room/internal/bridge"
	"control_room/internal/config"
	"control_room/internal/domain"
	"control_room/internal/engine"
	journal "control_room/internal/journal/sqlite"
	"control_room/internal/messaging/inproc"
	"control_room/internal/plans"
	"control_room/internal/store"
)

func loopPlan() domain.PlanDefinition {
	return domain.PlanDefinition{
		Name: "Loop",
		Items: []domain.PlanItemSpec{
			{ID: "A", Group: "L", Sector: domain.SectorBuild, DependsOn: []string{"B"}, EstimateMS: 1000, TPSMin: 1, TPSMax: 2},
			{ID: "B", Group: "L", Sector: domain.SectorBuild, DependsOn: []string{"A"}, EstimateMS: 1000, TPSMin: 1, TPSMax: 2},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *journal.Store) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	registry, err := plans.Builtin().With(loopPlan())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	js, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := js.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate journal: %v", err)
	}

	stream := inproc.New(64)
	observer := store.New()
	coalescer := bridge.Attach(stream, observer, bridge.Options{Window: 10 * time.Millisecond, Logger: logger})
	recorder := journal.NewRecorder(js, stream, logger)
	eng, err := engine.New(engine.Config{Seed: "http", Plan: "Test"}, registry, stream, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		_ = eng.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		_ = recorder.Run(ctx)
		done <- struct{}{}
	}()

	a := &app{
		cfg:      config.Default(),
		registry: registry,
		engine:   eng,
		store:    observer,
		bridge:   coalescer,
		journal:  js,
		logger:   logger,
	}
	srv := httptest.NewServer(a.routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		<-done
		coalescer.Destroy()
		_ = js.Close()
	})
	return srv, js
}

func postIntent(t *testing.T, base string, body string) int {
	t.Helper()
	resp, err := http.Post(base+"/intents", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post intent: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func waitForState(t *testing.T, base string, cond func(stateView) bool) stateView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		var view stateView
		getJSON(t, base+"/state", &view)
		if cond(view) {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("state condition not met, last=%+v", view.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIntentValidationStatuses(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		body string
		want int
	}{
		{`{"type":"set_plan","plan":"Nope"}`, http.StatusNotFound},
		{`{"type":"set_plan"}`, http.StatusBadRequest},
		{`{"type":"explode"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
		{`{"type":"set_plan","plan":"Loop"}`, http.StatusUnprocessableEntity},
		{`{"type":"set_speed","speed":-3}`, http.StatusAccepted},
		{`{"type":"set_plan","plan":"calm"}`, http.StatusAccepted},
	}
	for _, tc := range cases {
		if got := postIntent(t, srv.URL, tc.body); got != tc.want {
			t.Fatalf("POST %s = %d, want %d", tc.body, got, tc.want)
		}
	}

	view := waitForState(t, srv.URL, func(v stateView) bool { return v.State.Plan == "Calm" })
	if len(view.State.Items) != 12 || view.State.Speed != 1 {
		t.Fatalf("unexpected state after set_plan: items=%d speed=%v", len(view.State.Items), view.State.Speed)
	}
	if len(view.Groups) != 4 {
		t.Fatalf("expected 4 declared groups, got %d", len(view.Groups))
	}
}

func TestPlansAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	if code := getJSON(t, srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz returned %d", code)
	}
	var views []planView
	if code := getJSON(t, srv.URL+"/plans", &views); code != http.StatusOK {
		t.Fatalf("plans returned %d", code)
	}
	if len(views) != 5 {
		t.Fatalf("expected 5 plans, got %d", len(views))
	}
	defaults := 0
	for _, v := range views {
		if v.Default {
			defaults++
		}
		if len(v.Groups) == 0 {
			t.Fatalf("plan %s has no groups", v.Name)
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default plan, got %d", defaults)
	}
}

func TestRunsAreJournaledAndReplayable(t *testing.T) {
	srv, js := newTestServer(t)

	if got := postIntent(t, srv.URL, `{"type":"set_speed","speed":10}`); got != http.StatusAccepted {
		t.Fatalf("set_speed returned %d", got)
	}
	if got := postIntent(t, srv.URL, `{"type":"set_running","running":true}`); got != http.StatusAccepted {
		t.Fatalf("set_running returned %d", got)
	}
	waitForState(t, srv.URL, func(v stateView) bool { return v.State.Metrics.CompletionRate == 1 })
	if got := postIntent(t, srv.URL, `{"type":"set_running","running":false}`); got != http.StatusAccepted {
		t.Fatalf("pause returned %d", got)
	}
	view := waitForState(t, srv.URL, func(v stateView) bool { return !v.State.Running })

	var run journal.Run
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := js.GetRun(context.Background(), view.State.RunID)
		if err == nil && got.EventCount > 2 && got.LastTickID > 0 {
			run = got
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s not journaled: %+v err=%v", view.State.RunID, got, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var runs []journal.Run
	if code := getJSON(t, srv.URL+"/runs", &runs); code != http.StatusOK || len(runs) == 0 {
		t.Fatalf("runs returned %d with %d runs", code, len(runs))
	}
	var entries []journal.Entry
	if code := getJSON(t, srv.URL+"/runs/"+run.ID+"/events?limit=5", &entries); code != http.StatusOK || len(entries) == 0 {
		t.Fatalf("events returned %d with %d entries", code, len(entries))
	}
	if entries[0].Kind != domain.EventTypeSnapshot {
		t.Fatalf("first journaled event should be a snapshot, got %s", entries[0].Kind)
	}

	var replay struct {
		Events int          `json:"events"`
		State  domain.State `json:"state"`
	}
	deadline = time.Now().Add(3 * time.Second)
	for {
		if code := getJSON(t, srv.URL+"/runs/"+run.ID+"/replay", &replay); code != http.StatusOK {
			t.Fatalf("replay returned %d", code)
		}
		if replay.State.Items["B"].Status == domain.ItemStatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replayed state never finished: %+v", replay.State.Items)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if replay.State.RunID != run.ID || replay.Events < 3 {
		t.Fatalf("unexpected replay run=%s events=%d", replay.State.RunID, replay.Events)
	}
	if code := getJSON(t, srv.URL+"/runs/missing/replay", nil); code != http.StatusNotFound {
		t.Fatalf("missing run replay returned %d", code)
	}
}
