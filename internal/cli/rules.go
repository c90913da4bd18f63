package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcam/internal/compiler"
	"github.com/roach88/dropcam/internal/entries"
	"github.com/roach88/dropcam/internal/harness"
	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/rules"
)

// NewRulesCommand groups the rule set commands.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Compile, check and test CUE rule sets",
	}
	cmd.AddCommand(newRulesCompileCommand(rootOpts))
	cmd.AddCommand(newRulesCheckCommand(rootOpts))
	cmd.AddCommand(newRulesTestCommand(rootOpts))
	return cmd
}

// CompilationResult is the output of rules compile.
type CompilationResult struct {
	RuleSet  *ir.RuleSet             `json:"ruleset"`
	Hash     string                  `json:"hash"`
	Files    []string                `json:"files"`
	Warnings []compiler.CycleWarning `json:"warnings"`
}

func newRulesCompileCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "compile <rules-dir>",
		Short: "Compile CUE rules to canonical IR",
		Long: `Compile the CUE rule set in a directory and validate it.

All validation errors are reported at once. Autofill templates that read
their own target or each other are reported as warnings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCompile(rootOpts, cmd, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the compiled rule set to this file")
	return cmd
}

func runRulesCompile(opts *RootOptions, cmd *cobra.Command, dir, output string) error {
	f := opts.formatter(cmd)

	res, err := LoadRules(dir)
	if err != nil {
		return outputLoadError(f, err)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", len(res.Files), dir)

	if verrs := compiler.Validate(res.RuleSet); len(verrs) > 0 {
		return outputValidationErrors(f, verrs)
	}

	result := CompilationResult{
		RuleSet:  res.RuleSet,
		Hash:     res.Hash,
		Files:    res.Files,
		Warnings: res.Warnings,
	}

	if output != "" {
		data, err := json.MarshalIndent(res.RuleSet, "", "  ")
		if err == nil {
			err = os.WriteFile(output, append(data, '\n'), 0o644)
		}
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	if f.JSON() {
		return f.Success(result)
	}

	f.Textf("✓ Compiled rule set %s: %d rule(s)", res.RuleSet.Name, len(res.RuleSet.Rules))
	rows := make([][]string, 0, len(res.RuleSet.Rules))
	for _, r := range res.RuleSet.Rules {
		rows = append(rows, []string{r.ID, r.Kind, ruleTarget(r)})
	}
	f.Table([]string{"ID", "KIND", "FIELD"}, rows)
	for _, w := range res.Warnings {
		f.Textf("%s: %s", w.Level, w.Message)
	}
	if output != "" {
		f.Textf("Wrote rule set to %s", output)
	}
	return nil
}

func ruleTarget(r ir.Rule) string {
	switch {
	case r.Field != "":
		return r.Field
	case len(r.Fields) > 0:
		return strings.Join(r.Fields, "+")
	case r.When != nil:
		return "when " + r.When.Field
	}
	return ""
}

// outputLoadError reports a rule loading failure (exit code 2).
func outputLoadError(f *OutputFormatter, err error) error {
	code, _ := classify(err)
	var details any
	var le *LoadError
	if errors.As(err, &le) && le.Pos.IsValid() {
		details = map[string]any{
			"file":   le.Pos.Filename(),
			"line":   le.Pos.Line(),
			"column": le.Pos.Column(),
		}
	}
	return f.Fail(ExitCommandError, code, err.Error(), details)
}

// outputValidationErrors reports every validation error (exit code 2).
func outputValidationErrors(f *OutputFormatter, verrs []compiler.ValidationError) error {
	if f.JSON() {
		cliErrors := make([]CLIError, len(verrs))
		for i, v := range verrs {
			cliErrors[i] = CLIError{Code: v.Code, Message: v.Field + ": " + v.Message}
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{Status: "error", Error: &cliErrors[0], Data: cliErrors}); err != nil {
			return err
		}
	} else {
		f.Textf("✗ Validation failed")
		f.Textf("")
		for _, v := range verrs {
			f.Textf("  %s", v.Error())
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(verrs)))
}

// CheckResult is the output of rules check.
type CheckResult struct {
	RuleSet string     `json:"ruleset"`
	Rows    int        `json:"rows"`
	Failed  int        `json:"failed"`
	Reports []RowCheck `json:"reports"`
}

// RowCheck is the check of one ledger row.
type RowCheck struct {
	Row        int               `json:"row"` // 0-based data row
	DropID     string            `json:"drop_id,omitempty"`
	Violations []rules.Violation `json:"violations"`
}

func newRulesCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <rules-dir> <entries.csv>",
		Short: "Check every row of an entries CSV against a rule set",
		Long: `Evaluate every row of an entries CSV against a rule set.

Autofill is applied in memory only; the file is not modified.

Exit codes:
  0 - Every row passes
  1 - One or more rows violate a rule
  2 - Command error`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesCheck(rootOpts, cmd, args[0], args[1])
		},
	}
}

func runRulesCheck(opts *RootOptions, cmd *cobra.Command, dir, csvPath string) error {
	f := opts.formatter(cmd)

	res, err := opts.loadRuleSet(dir)
	if err != nil {
		return outputLoadError(f, err)
	}
	if _, err := os.Stat(csvPath); err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("entries file not found: %s", csvPath), nil)
	}

	rows, err := entries.NewLedger(csvPath, nil).Load()
	if err != nil {
		return fail(f, err, nil)
	}

	eval := rules.NewEvaluator(res.RuleSet)
	result := CheckResult{RuleSet: res.RuleSet.Name, Rows: len(rows), Reports: []RowCheck{}}
	for i, e := range rows {
		report := eval.Evaluate(e)
		if report.Pass() {
			continue
		}
		result.Failed++
		result.Reports = append(result.Reports, RowCheck{
			Row:        i,
			DropID:     e.Get(entries.FieldDropID),
			Violations: report.Violations,
		})
	}

	if f.JSON() {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		var table [][]string
		for _, r := range result.Reports {
			for _, v := range r.Violations {
				table = append(table, []string{strconv.Itoa(r.Row), r.DropID, v.RuleID, v.Message})
			}
		}
		if len(table) > 0 {
			f.Table([]string{"ROW", "DROP", "RULE", "MESSAGE"}, table)
		}
		f.Textf("%d of %d row(s) pass %s", result.Rows-result.Failed, result.Rows, result.RuleSet)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d row(s) violate the rules", result.Failed))
	}
	return nil
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func newRulesTestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <scenario.yaml>...",
		Short: "Run rule conformance scenarios",
		Long: `Run rule conformance scenarios.

Each scenario names a rules directory and a list of entries with their
expected outcome.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesTest(rootOpts, cmd, args)
		},
	}
}

func runRulesTest(opts *RootOptions, cmd *cobra.Command, files []string) error {
	f := opts.formatter(cmd)
	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}

	for _, file := range files {
		sr := runScenarioFile(opts, file)
		f.VerboseLog("%s: pass=%t", file, sr.Pass)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if f.JSON() {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		for _, sr := range result.Scenarios {
			mark := "✓"
			if !sr.Pass {
				mark = "✗"
			}
			f.Textf("%s %s (%s)", mark, sr.Name, sr.File)
			for _, e := range sr.Errors {
				f.Textf("    %s", e)
			}
		}
		f.Textf("")
		f.Textf("%d passed, %d failed, %d total", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func runScenarioFile(opts *RootOptions, file string) ScenarioResult {
	sr := ScenarioResult{Name: file, File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Name = scenario.Name

	result, err := harness.RunWithLogger(scenario, opts.Logger)
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Pass = result.Pass
	sr.Errors = result.Failures()
	return sr
}
