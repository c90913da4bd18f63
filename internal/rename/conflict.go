package rename

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/roach88/dropcam/internal/ir"
)

// ConflictReason says why a target cannot be used.
type ConflictReason string

const (
	ReasonDuplicateTarget ConflictReason = "duplicate target" // two ops write the same file
	ReasonTargetExists    ConflictReason = "target exists"    // a different file is already there
)

// Conflict is one unusable rename target.
type Conflict struct {
	Target  string         `json:"target"`
	Sources []string       `json:"sources"`
	Reason  ConflictReason `json:"reason"`
}

// ConflictError lists every conflict found in a plan.
// When it is returned no file has been touched.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		c := e.Conflicts[0]
		return fmt.Sprintf("rename conflict: %s: %s (from %s)", c.Target, c.Reason, strings.Join(c.Sources, ", "))
	}
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s: %s", c.Target, c.Reason)
	}
	return fmt.Sprintf("rename conflicts (%d): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

// Check looks for targets claimed by several ops and targets that already
// exist on disk as a different file. Returns *ConflictError, or nil.
//
// A target that exists but is itself a source in the plan still conflicts:
// ops run in order and the plan does not reorder chains.
func Check(plan *ir.Plan) error {
	var conflicts []Conflict

	byTarget := make(map[string][]string)
	var order []string
	for _, op := range plan.Ops {
		if _, ok := byTarget[op.To]; !ok {
			order = append(order, op.To)
		}
		byTarget[op.To] = append(byTarget[op.To], op.From)
	}

	for _, to := range order {
		sources := byTarget[to]
		if len(sources) > 1 {
			conflicts = append(conflicts, Conflict{Target: to, Sources: sources, Reason: ReasonDuplicateTarget})
			continue
		}
		exists, err := occupied(sources[0], to)
		if err != nil {
			return err
		}
		if exists {
			conflicts = append(conflicts, Conflict{Target: to, Sources: sources, Reason: ReasonTargetExists})
		}
	}

	if len(conflicts) == 0 {
		return nil
	}
	slices.SortStableFunc(conflicts, func(a, b Conflict) int { return strings.Compare(a.Target, b.Target) })
	return &ConflictError{Conflicts: conflicts}
}

// occupied reports whether to exists and is not the same file as from.
// The second case covers case-only renames on case-insensitive filesystems.
func occupied(from, to string) (bool, error) {
	toInfo, err := os.Lstat(to)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", to, err)
	}
	fromInfo, err := os.Lstat(from)
	if err != nil {
		return true, nil
	}
	return !os.SameFile(fromInfo, toInfo), nil
}
