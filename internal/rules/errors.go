package rules

import (
	"fmt"
	"strings"
)

// Violation is one failed check.
type Violation struct {
	RuleID  string `json:"rule_id"`
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.RuleID, v.Message)
}

// ViolationsError is returned when an entry fails validation and a save is
// refused.
type ViolationsError struct {
	Violations []Violation
}

func (e *ViolationsError) Error() string {
	if len(e.Violations) == 1 {
		return "validation failed: " + e.Violations[0].String()
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("validation failed (%d violations): %s", len(e.Violations), strings.Join(msgs, "; "))
}

// RuleIDs returns the IDs of the failed rules in report order.
func (e *ViolationsError) RuleIDs() []string {
	ids := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		ids[i] = v.RuleID
	}
	return ids
}
