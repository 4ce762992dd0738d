package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIntentQueueFull = errors.New("engine intent queue is full")
	ErrEngineStopped   = errors.New("engine stopped")
)

// CycleError rejects activation of a plan whose dependency graph is cyclic.
type CycleError struct {
	Plan   string
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, strings.Join(append(append([]string(nil), c...), c[0]), " -> "))
	}
	return fmt.Sprintf("plan %s has %d dependency cycle(s): %s", e.Plan, len(e.Cycles), strings.Join(parts, "; "))
}
