package main

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"control_room/internal/domain"
	"control_room/internal/store"
)

var speeds = []float64{1, 2, 4}

// statusRank puts live work first and finished work last.
func statusRank(s domain.ItemStatus) int {
	switch s {
	case domain.ItemStatusInProgress:
		return 0
	case domain.ItemStatusQueued, domain.ItemStatusAssigned, domain.ItemStatusBlocked:
		return 1
	case domain.ItemStatusDone:
		return 2
	default:
		return 99
	}
}

func sortedItems(items map[string]domain.WorkItem) []domain.WorkItem {
	out := make([]domain.WorkItem, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := statusRank(out[i].Status), statusRank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func statusColor(s domain.ItemStatus) tcell.Color {
	switch s {
	case domain.ItemStatusInProgress:
		return tcell.ColorYellow
	case domain.ItemStatusDone:
		return tcell.ColorGreen
	case domain.ItemStatusBlocked:
		return tcell.ColorRed
	default:
		return tcell.ColorWhite
	}
}

func formatETA(ms int64, status domain.ItemStatus) string {
	if status == domain.ItemStatusDone {
		return "done"
	}
	if status != domain.ItemStatusInProgress || ms < 0 {
		return "-"
	}
	total := int64(math.Round(float64(ms) / 1000))
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func renderItemsTable(table *tview.Table, items map[string]domain.WorkItem) {
	table.Clear()
	headers := []string{"ID", "Agent", "Sector", "Status", "Tokens", "TPS", "ETA", "Work order"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, it := range sortedItems(items) {
		row := i + 1
		color := statusColor(it.Status)
		agent := it.AgentID
		if agent == "" {
			agent = "-"
		}
		table.SetCell(row, 0, tview.NewTableCell(it.ID).SetTextColor(color))
		table.SetCell(row, 1, tview.NewTableCell(agent))
		table.SetCell(row, 2, tview.NewTableCell(string(it.Sector)))
		table.SetCell(row, 3, tview.NewTableCell(string(it.Status)).SetTextColor(color))
		table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%d/%d", int64(it.TokensDone), it.EstTokens)).SetAlign(tview.AlignRight))
		table.SetCell(row, 5, tview.NewTableCell(fmt.Sprintf("%.1f", it.TPS)).SetAlign(tview.AlignRight))
		table.SetCell(row, 6, tview.NewTableCell(formatETA(it.EtaMS, it.Status)).SetAlign(tview.AlignRight))
		table.SetCell(row, 7, tview.NewTableCell(trimLine(it.Desc, 48)))
	}
}

func renderMetrics(view stateView) string {
	st := view.State
	m := st.Metrics
	running := "[red]paused[-]"
	if st.Running {
		running = "[green]running[-]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "plan=%s  %s  speed=%gx  seed=%s\n", st.Plan, running, st.Speed, trimLine(st.Seed, 20))
	fmt.Fprintf(&b, "run=%s  tick=%d  version=%d\n", shortID(st.RunID), view.LastTickID, view.Version)
	fmt.Fprintf(&b, "completion %s %5.1f%%\n", progressBar(m.CompletionRate, 24), m.CompletionRate*100)
	fmt.Fprintf(&b, "active agents  %d\n", m.ActiveAgents)
	fmt.Fprintf(&b, "tokens         %.0f\n", m.TotalTokens)
	fmt.Fprintf(&b, "spend          $%.4f\n", m.TotalSpendUSD)
	fmt.Fprintf(&b, "live tps       %.1f\n", m.LiveTPS)
	fmt.Fprintf(&b, "live spend/s   $%.6f\n", m.LiveSpendPerS)
	fmt.Fprintf(&b, "bridge         snapshots=%d flushes=%d ticks=%d dropped=%d\n",
		view.Bridge.Snapshots, view.Bridge.Flushes, view.Bridge.Ticks, view.Bridge.Dropped)
	return b.String()
}

func renderGroups(groups []store.GroupProgress) string {
	if len(groups) == 0 {
		return "No groups"
	}
	var b strings.Builder
	for _, g := range groups {
		title := g.Group.Title
		if title == "" {
			title = g.Group.ID
		}
		fmt.Fprintf(&b, "%-14s %s %3.0f%%  %d/%d\n", trimLine(title, 14), progressBar(g.Progress, 16), g.Progress*100, g.Done, g.Items)
	}
	return b.String()
}

func renderAgents(agents map[string]domain.Agent, items map[string]domain.WorkItem) string {
	if len(agents) == 0 {
		return "No active agents"
	}
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		a := agents[id]
		it, ok := items[a.WorkItemID]
		if !ok {
			fmt.Fprintf(&b, "%-8s -> %s\n", id, a.WorkItemID)
			continue
		}
		fmt.Fprintf(&b, "%-8s -> %-10s %-8s %6.1f tps  eta %s\n", id, it.ID, it.Sector, it.TPS, formatETA(it.EtaMS, it.Status))
	}
	return b.String()
}

func progressBar(fraction float64, width int) string {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(math.Round(fraction * float64(width)))
	return "|" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "|"
}

// nextPlan cycles through plans by name, wrapping at the end.
func nextPlan(plans []planView, current string) string {
	if len(plans) == 0 {
		return ""
	}
	names := make([]string, 0, len(plans))
	for _, p := range plans {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	for i, name := range names {
		if name == current {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
