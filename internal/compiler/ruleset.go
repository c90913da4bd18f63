package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/dropcam/internal/ir"
)

// DefaultRuleSetName is used when the CUE value has no ruleset label.
const DefaultRuleSetName = "default"

// CompileRuleSet parses a CUE value into a RuleSet.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value is the package root, e.g.:
//
//	ruleset: "reef-2025"
//	fields: ["POINT_ID", "SUBSTRATE", "DEPTH_M"]
//	rules: {
//		substrate: { kind: "allowed", field: "SUBSTRATE", values: ["sand", "rock"] }
//		depth:     { kind: "range", field: "DEPTH_M", min: 0, max: 60 }
//	}
//
// Rule order follows CUE field declaration order.
func CompileRuleSet(v cue.Value) (*ir.RuleSet, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rs := &ir.RuleSet{Name: DefaultRuleSetName}

	name, ok, err := lookupString(v, "ruleset")
	if err != nil {
		return nil, err
	}
	if ok {
		rs.Name = name
	}

	fields, err := lookupStringList(v, "fields")
	if err != nil {
		return nil, err
	}
	rs.Fields = fields

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, &CompileError{
			Field:   "rules",
			Message: "rules is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		rule, err := CompileRule(iter.Value(), strings.Trim(iter.Label(), `"`))
		if err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, *rule)
	}

	if len(rs.Rules) == 0 {
		return nil, &CompileError{
			Field:   "rules",
			Message: "at least one rule is required",
			Pos:     rulesVal.Pos(),
		}
	}

	return rs, nil
}

// CompileRule parses a single rule struct. id is used unless the struct
// carries its own id field.
func CompileRule(v cue.Value, id string) (*ir.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.Rule{ID: id}

	if ownID, ok, err := lookupString(v, "id"); err != nil {
		return nil, err
	} else if ok {
		rule.ID = ownID
	}

	kind, ok, err := lookupString(v, "kind")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompileError{
			Field:   fmt.Sprintf("rules.%s.kind", rule.ID),
			Message: "kind is required",
			Pos:     v.Pos(),
		}
	}
	rule.Kind = kind

	if rule.Field, _, err = lookupString(v, "field"); err != nil {
		return nil, err
	}
	if rule.Fields, err = lookupStringList(v, "fields"); err != nil {
		return nil, err
	}
	if rule.Values, err = lookupScalarList(v, "values"); err != nil {
		return nil, err
	}
	if rule.CaseSensitive, _, err = lookupBool(v, "case_sensitive"); err != nil {
		return nil, err
	}
	if rule.Min, err = lookupFloatPtr(v, "min"); err != nil {
		return nil, err
	}
	if rule.Max, err = lookupFloatPtr(v, "max"); err != nil {
		return nil, err
	}
	if eq, err := lookupFloatPtr(v, "equals"); err != nil {
		return nil, err
	} else if eq != nil {
		rule.Equals = *eq
	}
	if tol, err := lookupFloatPtr(v, "tolerance"); err != nil {
		return nil, err
	} else if tol != nil {
		rule.Tolerance = *tol
	}
	if rule.Pattern, _, err = lookupString(v, "pattern"); err != nil {
		return nil, err
	}
	if rule.Template, _, err = lookupString(v, "template"); err != nil {
		return nil, err
	}
	if rule.Overwrite, _, err = lookupBool(v, "overwrite"); err != nil {
		return nil, err
	}
	if rule.Message, _, err = lookupString(v, "message"); err != nil {
		return nil, err
	}

	whenVal := v.LookupPath(cue.ParsePath("when"))
	if whenVal.Exists() {
		cond, err := parseCondition(whenVal)
		if err != nil {
			return nil, err
		}
		rule.When = cond
	}

	thenVal := v.LookupPath(cue.ParsePath("then"))
	if thenVal.Exists() {
		then, err := parseThen(thenVal, rule.ID)
		if err != nil {
			return nil, err
		}
		rule.Then = then
	}

	return rule, nil
}

// parseCondition parses the when-clause of a conditional rule.
func parseCondition(v cue.Value) (*ir.Condition, error) {
	cond := &ir.Condition{}

	field, ok, err := lookupString(v, "field")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompileError{
			Field:   "when.field",
			Message: "when clause requires a field",
			Pos:     v.Pos(),
		}
	}
	cond.Field = field

	eqVal := v.LookupPath(cue.ParsePath("equals"))
	if eqVal.Exists() {
		s, err := scalarString(eqVal)
		if err != nil {
			return nil, err
		}
		cond.Equals = &s
	}
	if cond.In, err = lookupScalarList(v, "in"); err != nil {
		return nil, err
	}
	if cond.NotEmpty, _, err = lookupBool(v, "not_empty"); err != nil {
		return nil, err
	}

	return cond, nil
}

// parseThen parses the nested rules of a conditional.
// Accepts a list of rule structs or a struct of named rule structs.
func parseThen(v cue.Value, parentID string) ([]ir.Rule, error) {
	var rules []ir.Rule

	if v.IncompleteKind() == cue.StructKind {
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			id := parentID + "." + strings.Trim(iter.Label(), `"`)
			rule, err := CompileRule(iter.Value(), id)
			if err != nil {
				return nil, err
			}
			rules = append(rules, *rule)
		}
		return rules, nil
	}

	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "then",
			Message: "then must be a list or struct of rules",
			Pos:     v.Pos(),
		}
	}
	for i := 0; iter.Next(); i++ {
		rule, err := CompileRule(iter.Value(), fmt.Sprintf("%s.%d", parentID, i))
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

func lookupString(v cue.Value, path string) (string, bool, error) {
	f := v.LookupPath(cue.MakePath(cue.Str(path)))
	if !f.Exists() {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", false, typeError(path, "string", f)
	}
	return s, true, nil
}

func lookupBool(v cue.Value, path string) (bool, bool, error) {
	f := v.LookupPath(cue.MakePath(cue.Str(path)))
	if !f.Exists() {
		return false, false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, false, typeError(path, "bool", f)
	}
	return b, true, nil
}

func lookupFloatPtr(v cue.Value, path string) (*float64, error) {
	f := v.LookupPath(cue.MakePath(cue.Str(path)))
	if !f.Exists() {
		return nil, nil
	}
	n, err := f.Float64()
	if err != nil {
		return nil, typeError(path, "number", f)
	}
	return &n, nil
}

func lookupStringList(v cue.Value, path string) ([]string, error) {
	f := v.LookupPath(cue.MakePath(cue.Str(path)))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, typeError(path, "list of strings", f)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, typeError(path, "list of strings", iter.Value())
		}
		out = append(out, s)
	}
	return out, nil
}

// lookupScalarList reads a list whose elements may be strings, numbers or
// bools; everything is stored in its string form since form fields are text.
func lookupScalarList(v cue.Value, path string) ([]string, error) {
	f := v.LookupPath(cue.MakePath(cue.Str(path)))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, typeError(path, "list", f)
	}
	var out []string
	for iter.Next() {
		s, err := scalarString(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func scalarString(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatInt(n, 10), nil
	case cue.FloatKind, cue.NumberKind:
		n, err := v.Float64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatBool(b), nil
	default:
		return "", &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func typeError(path, want string, v cue.Value) error {
	return &CompileError{
		Field:   path,
		Message: fmt.Sprintf("%s must be a %s", path, want),
		Pos:     v.Pos(),
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
