// Package rules evaluates compiled rule sets against drop entries.
//
// Evaluation has two phases. Autofill rules run first, in declaration
// order, and may write fields. Checks then run once, in declaration order,
// against the filled entry. Nothing loops: a rule never sees the effect of
// a rule declared after it within the same phase.
package rules

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/dropcam/internal/ir"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// sumEpsilon absorbs float rounding in decimal sums such as 33.3+33.3+33.4.
const sumEpsilon = 1e-9

// Evaluator applies one rule set. It is safe for concurrent use.
type Evaluator struct {
	rs       *ir.RuleSet
	patterns map[string]*regexp.Regexp
	badRegex map[string]error
}

// Report is the outcome of evaluating one entry.
type Report struct {
	Entry      *ir.Entry   `json:"entry"`
	Violations []Violation `json:"violations"`
	Filled     []string    `json:"filled"`
}

// Pass reports whether no check failed.
func (r Report) Pass() bool {
	return len(r.Violations) == 0
}

// Err returns a *ViolationsError when the report has violations, else nil.
func (r Report) Err() error {
	if r.Pass() {
		return nil
	}
	return &ViolationsError{Violations: r.Violations}
}

// NewEvaluator prepares a rule set for evaluation. Pattern rules are
// compiled up front; a pattern that does not compile fails every non-empty
// value it is applied to.
func NewEvaluator(rs *ir.RuleSet) *Evaluator {
	e := &Evaluator{
		rs:       rs,
		patterns: make(map[string]*regexp.Regexp),
		badRegex: make(map[string]error),
	}
	e.compilePatterns(rs.Rules)
	return e
}

func (e *Evaluator) compilePatterns(rules []ir.Rule) {
	for _, r := range rules {
		if r.Kind == ir.RulePattern {
			re, err := regexp.Compile(`^(?:` + r.Pattern + `)$`)
			if err != nil {
				e.badRegex[r.ID] = err
			} else {
				e.patterns[r.ID] = re
			}
		}
		if len(r.Then) > 0 {
			e.compilePatterns(r.Then)
		}
	}
}

// RuleSet returns the rule set being evaluated.
func (e *Evaluator) RuleSet() *ir.RuleSet {
	return e.rs
}

// Evaluate runs autofill then checks on a copy of entry.
// The input entry is never modified.
func (e *Evaluator) Evaluate(entry *ir.Entry) Report {
	out := entry.Clone()
	report := Report{
		Entry:      out,
		Violations: []Violation{},
		Filled:     []string{},
	}

	for _, r := range e.rs.Rules {
		if r.Kind != ir.RuleAutofill {
			continue
		}
		if applyAutofill(out, r) && !slices.Contains(report.Filled, r.Field) {
			report.Filled = append(report.Filled, r.Field)
		}
	}

	for _, r := range e.rs.Rules {
		if r.Kind == ir.RuleAutofill {
			continue
		}
		report.Violations = append(report.Violations, e.check(out, r)...)
	}

	return report
}

// applyAutofill fills r.Field from r.Template. Returns true if the value
// changed.
func applyAutofill(entry *ir.Entry, r ir.Rule) bool {
	current := entry.Get(r.Field)
	if strings.TrimSpace(current) != "" && !r.Overwrite {
		return false
	}

	value, complete := expandTemplate(r.Template, entry)
	if !complete {
		if r.Overwrite && current != "" {
			entry.Set(r.Field, "")
			return true
		}
		return false
	}
	if value == current && entry.Has(r.Field) {
		return false
	}
	entry.Set(r.Field, value)
	return true
}

// expandTemplate substitutes {FIELD} placeholders with trimmed field
// values. complete is false when any referenced field is empty.
func expandTemplate(template string, entry *ir.Entry) (string, bool) {
	complete := true
	value := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		v := entry.Trimmed(strings.TrimSpace(m[1 : len(m)-1]))
		if v == "" {
			complete = false
		}
		return v
	})
	return value, complete
}

func (e *Evaluator) check(entry *ir.Entry, r ir.Rule) []Violation {
	switch r.Kind {
	case ir.RuleRequired:
		if entry.Trimmed(r.Field) == "" {
			return []Violation{violation(r, "%s is required", r.Field)}
		}

	case ir.RuleAllowed:
		v := entry.Trimmed(r.Field)
		if v == "" {
			return nil
		}
		if !containsValue(r.Values, v, r.CaseSensitive) {
			return []Violation{violation(r, "%s value %q is not one of: %s",
				r.Field, v, strings.Join(r.Values, ", "))}
		}

	case ir.RuleRange:
		v := entry.Trimmed(r.Field)
		if v == "" {
			return nil
		}
		n, ok := parseNumber(v)
		if !ok {
			return []Violation{violation(r, "%s value %q is not a number", r.Field, v)}
		}
		if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
			return []Violation{violation(r, "%s value %s is outside %s", r.Field, v, rangeText(r.Min, r.Max))}
		}

	case ir.RulePattern:
		v := entry.Trimmed(r.Field)
		if v == "" {
			return nil
		}
		if err, bad := e.badRegex[r.ID]; bad {
			return []Violation{violation(r, "%s pattern is invalid: %v", r.Field, err)}
		}
		if !e.patterns[r.ID].MatchString(v) {
			return []Violation{violation(r, "%s value %q does not match %s", r.Field, v, r.Pattern)}
		}

	case ir.RuleSum:
		return checkSum(entry, r)

	case ir.RuleConditional:
		if r.When == nil || !conditionHolds(entry, *r.When, r.CaseSensitive) {
			return nil
		}
		var out []Violation
		for _, nested := range r.Then {
			if nested.Kind == ir.RuleAutofill {
				continue
			}
			out = append(out, e.check(entry, nested)...)
		}
		return out

	default:
		return []Violation{violation(r, "unknown rule kind %q", r.Kind)}
	}
	return nil
}

func checkSum(entry *ir.Entry, r ir.Rule) []Violation {
	var (
		total    float64
		anyValue bool
		out      []Violation
	)
	for _, f := range r.Fields {
		v := entry.Trimmed(f)
		if v == "" {
			continue
		}
		anyValue = true
		n, ok := parseNumber(v)
		if !ok {
			out = append(out, Violation{
				RuleID:  r.ID,
				Kind:    r.Kind,
				Field:   f,
				Message: fmt.Sprintf("%s value %q is not a number", f, v),
			})
			continue
		}
		total += n
	}
	if len(out) > 0 || !anyValue {
		return out
	}
	if math.Abs(total-r.Equals) > r.Tolerance+sumEpsilon {
		return []Violation{violation(r, "%s must sum to %s (got %s)",
			strings.Join(r.Fields, " + "), formatNumber(r.Equals), formatNumber(total))}
	}
	return nil
}

// conditionHolds tests a when clause. Comparisons fold case unless the
// conditional rule sets case_sensitive.
func conditionHolds(entry *ir.Entry, c ir.Condition, caseSensitive bool) bool {
	v := entry.Trimmed(c.Field)
	if c.NotEmpty && v == "" {
		return false
	}
	if c.Equals != nil && !containsValue([]string{*c.Equals}, v, caseSensitive) {
		return false
	}
	if len(c.In) > 0 && !containsValue(c.In, v, caseSensitive) {
		return false
	}
	return true
}

// violation builds a Violation, preferring the rule's own message.
func violation(r ir.Rule, format string, args ...any) Violation {
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf(format, args...)
	}
	return Violation{RuleID: r.ID, Kind: r.Kind, Field: r.Field, Message: msg}
}

func containsValue(values []string, v string, caseSensitive bool) bool {
	if caseSensitive {
		v = norm.NFC.String(v)
		for _, allowed := range values {
			if norm.NFC.String(strings.TrimSpace(allowed)) == v {
				return true
			}
		}
		return false
	}
	fv := fold(v)
	for _, allowed := range values {
		if fold(allowed) == fv {
			return true
		}
	}
	return false
}

// fold normalises a value for case-insensitive comparison.
// A Caser is stateful, so one is created per call.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func rangeText(lo, hi *float64) string {
	switch {
	case lo != nil && hi != nil:
		return fmt.Sprintf("[%s, %s]", formatNumber(*lo), formatNumber(*hi))
	case lo != nil:
		return fmt.Sprintf("[%s, ∞)", formatNumber(*lo))
	default:
		return fmt.Sprintf("(-∞, %s]", formatNumber(*hi))
	}
}
