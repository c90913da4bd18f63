package harness

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/dropcam/internal/compiler"
	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/rules"
)

// Result is the outcome of running a scenario.
type Result struct {
	Scenario  string       `json:"scenario"`
	RuleSet   string       `json:"ruleset"`
	RulesHash string       `json:"rules_hash"`
	Cases     []CaseResult `json:"cases"`
	Pass      bool         `json:"pass"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Name   string       `json:"name"`
	Report rules.Report `json:"report"`
	Errors []string     `json:"errors,omitempty"` // expectation mismatches
}

// Pass reports whether the case met its expectations.
func (c CaseResult) Pass() bool {
	return len(c.Errors) == 0
}

// Failures returns every mismatch as "case: message".
func (r *Result) Failures() []string {
	var out []string
	for _, c := range r.Cases {
		for _, e := range c.Errors {
			out = append(out, c.Name+": "+e)
		}
	}
	return out
}

// Run loads the scenario's rules directory and evaluates every case.
//
// An error means the scenario could not run at all (rules missing or not
// compiling, or the rule set failing validation). Unmet expectations are
// reported in the Result, not as an error.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, nil)
}

// RunWithLogger is Run with diagnostic logging.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	loaded, err := compiler.LoadDir(scenario.Rules)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if verrs := compiler.Validate(loaded.RuleSet); len(verrs) > 0 {
		return nil, fmt.Errorf("scenario %s: rule set %s has %d validation error(s), first: %w",
			scenario.Name, loaded.RuleSet.Name, len(verrs), verrs[0])
	}
	for _, w := range loaded.Warnings {
		logger.Warn("autofill dependency", "scenario", scenario.Name, "path", strings.Join(w.Path, " -> "), "message", w.Message)
	}

	result := RunRuleSet(scenario, loaded.RuleSet)
	result.RulesHash = loaded.Hash

	logger.Debug("scenario finished",
		"scenario", scenario.Name,
		"ruleset", result.RuleSet,
		"cases", len(result.Cases),
		"pass", result.Pass)
	return result, nil
}

// RunRuleSet evaluates every case against an already compiled rule set.
func RunRuleSet(scenario *Scenario, rs *ir.RuleSet) *Result {
	eval := rules.NewEvaluator(rs)
	result := &Result{
		Scenario: scenario.Name,
		RuleSet:  rs.Name,
		Cases:    make([]CaseResult, 0, len(scenario.Cases)),
		Pass:     true,
	}

	for _, c := range scenario.Cases {
		entry := buildEntry(scenario.Fields, rs.Fields, c.Entry)
		report := eval.Evaluate(entry)
		cr := CaseResult{
			Name:   c.Name,
			Report: report,
			Errors: checkExpect(c.Expect, report),
		}
		if !cr.Pass() {
			result.Pass = false
		}
		result.Cases = append(result.Cases, cr)
	}
	return result
}

// buildEntry lays out a case entry: explicit fields, else the rule set's
// fields, then remaining keys sorted.
func buildEntry(fields, ruleFields []string, values map[string]string) *ir.Entry {
	order := fields
	if len(order) == 0 {
		order = ruleFields
	}
	entry := ir.NewEntry(order)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		entry.Set(k, values[k])
	}
	return entry
}

func checkExpect(want Expect, report rules.Report) []string {
	var errs []string

	got := violatedRules(report)
	if want.WantPass() != report.Pass() {
		errs = append(errs, fmt.Sprintf("expected pass=%t, got pass=%t (violations: %s)",
			want.WantPass(), report.Pass(), listOrNone(got)))
	}

	if len(want.Violations) > 0 {
		expected := slices.Clone(want.Violations)
		slices.Sort(expected)
		expected = slices.Compact(expected)
		if !slices.Equal(expected, got) {
			errs = append(errs, fmt.Sprintf("expected violations %s, got %s",
				listOrNone(expected), listOrNone(got)))
		}
	}

	fields := make([]string, 0, len(want.Filled))
	for f := range want.Filled {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		if v := report.Entry.Get(f); v != want.Filled[f] {
			errs = append(errs, fmt.Sprintf("expected %s=%q after autofill, got %q", f, want.Filled[f], v))
		}
	}

	return errs
}

// violatedRules returns the sorted, unique rule IDs in a report.
func violatedRules(report rules.Report) []string {
	ids := make([]string, 0, len(report.Violations))
	for _, v := range report.Violations {
		ids = append(ids, v.RuleID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return "[" + strings.Join(ids, ", ") + "]"
}
