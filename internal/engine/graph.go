package engine

import (
	"sort"
	"strings"

	"control_room/internal/domain"
)

// DetectCycles walks the depends_on graph depth-first. Every back-edge to a
// node still on the recursion stack yields the stack slice from that node to
// the top. Cycles with the same member set are reported once.
func DetectCycles(items map[string]domain.WorkItem) [][]string {
	ids := sortedIDs(items)
	visited := make(map[string]bool, len(ids))
	onStack := make(map[string]bool, len(ids))
	stack := make([]string, 0, len(ids))
	var cycles [][]string

	var dfs func(u string)
	dfs = func(u string) {
		visited[u] = true
		onStack[u] = true
		stack = append(stack, u)
		for _, v := range items[u].DependsOn {
			if !visited[v] {
				if _, ok := items[v]; ok {
					dfs(v)
				}
				continue
			}
			if onStack[v] {
				for idx := len(stack) - 1; idx >= 0; idx-- {
					if stack[idx] == v {
						cycles = append(cycles, append([]string(nil), stack[idx:]...))
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		onStack[u] = false
	}

	for _, id := range ids {
		if !visited[id] {
			dfs(id)
		}
	}

	unique := make([][]string, 0, len(cycles))
	seen := make(map[string]struct{}, len(cycles))
	for _, c := range cycles {
		key := cycleSignature(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, c)
	}
	return unique
}

func cycleSignature(cycle []string) string {
	sorted := append([]string(nil), cycle...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// DepsSatisfied reports whether every dependency of id exists and is done.
func DepsSatisfied(items map[string]domain.WorkItem, id string) bool {
	it, ok := items[id]
	if !ok {
		return false
	}
	for _, dep := range it.DependsOn {
		d, ok := items[dep]
		if !ok || d.Status != domain.ItemStatusDone {
			return false
		}
	}
	return true
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
