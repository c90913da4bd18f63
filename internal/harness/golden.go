package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/dropcam/internal/ir"
)

// Snapshot converts a result into the canonical shape stored in golden
// files. Only the observable outcome of each case is kept: the entry after
// autofill, the filled fields and the violations.
func Snapshot(result *Result) map[string]any {
	cases := make([]any, len(result.Cases))
	for i, c := range result.Cases {
		violations := make([]any, len(c.Report.Violations))
		for j, v := range c.Report.Violations {
			vm := map[string]any{
				"rule_id": v.RuleID,
				"kind":    v.Kind,
				"message": v.Message,
			}
			if v.Field != "" {
				vm["field"] = v.Field
			}
			violations[j] = vm
		}
		cases[i] = map[string]any{
			"name":       c.Name,
			"pass":       c.Report.Pass(),
			"entry":      c.Report.Entry,
			"filled":     c.Report.Filled,
			"violations": violations,
		}
	}
	return map[string]any{
		"scenario": result.Scenario,
		"ruleset":  result.RuleSet,
		"cases":    cases,
	}
}

// RunWithGolden runs a scenario, fails the test on unmet expectations and
// compares the canonical reports against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario could not run.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, f := range result.Failures() {
		t.Errorf("%s: %s", scenario.Name, f)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := ir.MarshalCanonical(Snapshot(result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
