package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"control_room/internal/config"
	"control_room/internal/domain"
	"control_room/internal/engine"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.control_room/config.toml)")
	addr := flag.String("addr", "", "simulator base URL (default from config)")
	interval := flag.Duration("interval", 0, "refresh interval (default from config)")
	embedded := flag.Bool("embedded", false, "start a simulator for the lifetime of the monitor")
	simulatorBinary := flag.String("simulator-bin", "", "path to simulator binary (optional in embedded mode)")
	journalPath := flag.String("journal", "", "sqlite journal path for the embedded simulator")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg = cfg.ApplyEnv(os.LookupEnv).WithDefaults()
	baseURL := *addr
	if baseURL == "" {
		baseURL = cfg.Monitor.APIBase
	}
	refresh := *interval
	if refresh <= 0 {
		refresh = time.Duration(cfg.Monitor.RefreshMS) * time.Millisecond
	}

	c := newClient(baseURL)

	if *embedded {
		proc, err := startEmbeddedSimulator(baseURL, *simulatorBinary, *journalPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded simulator: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "simulator health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	itemsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	itemsTable.SetTitle("Work items").SetBorder(true)

	metricsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	metricsView.SetTitle("Metrics").SetBorder(true)

	groupsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	groupsView.SetTitle("Groups").SetBorder(true)

	agentsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	agentsView.SetTitle("Agents").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | keys: F10 quit, F5 refresh, Space run/pause, 1/2/3 speed, n next plan, s new seed, r resync",
		c.baseURL,
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(metricsView, 11, 0, false).
		AddItem(groupsView, 0, 1, false).
		AddItem(agentsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(itemsTable, 0, 3, true).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, true).
		AddItem(statusView, 3, 0, false)

	var mu sync.Mutex
	var last stateView

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshState := func() {
		view, err := c.state()
		if err != nil {
			setStatusAsync(fmt.Sprintf("[red]load error:[-] %v", err))
			return
		}
		mu.Lock()
		last = view
		mu.Unlock()
		app.QueueUpdateDraw(func() {
			renderItemsTable(itemsTable, view.State.Items)
			metricsView.SetText(renderMetrics(view))
			groupsView.SetText(renderGroups(view.Groups))
			agentsView.SetText(renderAgents(view.State.Agents, view.State.Items))
		})
	}

	current := func() domain.State {
		mu.Lock()
		defer mu.Unlock()
		return last.State
	}

	send := func(label string, intent domain.Intent) {
		setStatusUI(label + "...")
		go func() {
			if err := c.sendIntent(intent); err != nil {
				setStatusAsync(fmt.Sprintf("[red]%s failed:[-] %v", label, err))
				return
			}
			refreshState()
			setStatusAsync(label + " ok")
		}()
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshState()
				setStatusAsync("Manual refresh complete")
			}()
			return nil
		case tcell.KeyRune:
		default:
			return event
		}
		switch r := event.Rune(); r {
		case ' ':
			running := !current().Running
			label := "pause"
			if running {
				label = "run"
			}
			send(label, domain.Intent{Type: domain.IntentSetRunning, Running: &running})
		case '1', '2', '3':
			speed := speeds[r-'1']
			send(fmt.Sprintf("speed %gx", speed), domain.Intent{Type: domain.IntentSetSpeed, Speed: &speed})
		case 'n':
			plan := current().Plan
			go func() {
				plans, err := c.plans()
				if err != nil {
					setStatusAsync(fmt.Sprintf("[red]list plans failed:[-] %v", err))
					return
				}
				next := nextPlan(plans, plan)
				if next == "" {
					setStatusAsync("No plans available")
					return
				}
				app.QueueUpdate(func() {
					send("plan "+next, domain.Intent{Type: domain.IntentSetPlan, Plan: &next})
				})
			}()
		case 's':
			seed := engine.AutoSeed
			send("new seed", domain.Intent{Type: domain.IntentSetSeed, Seed: &seed})
		case 'r':
			send("resync", domain.Intent{Type: domain.IntentRequestSnapshot})
		default:
			return event
		}
		return nil
	})

	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()

		refreshState()
		for range ticker.C {
			refreshState()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(itemsTable).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}
