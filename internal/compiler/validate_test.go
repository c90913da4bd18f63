package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcam/internal/ir"
)

func ptr[T any](v T) *T { return &v }

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateValidRuleSet(t *testing.T) {
	rs := &ir.RuleSet{
		Name:   "ok",
		Fields: []string{"A", "B", "C", "D"},
		Rules: []ir.Rule{
			{ID: "a", Kind: ir.RuleAllowed, Field: "A", Values: []string{"x"}},
			{ID: "b", Kind: ir.RuleRange, Field: "B", Min: ptr(0.0)},
			{ID: "c", Kind: ir.RuleSum, Fields: []string{"B", "C"}, Equals: 100},
			{ID: "d", Kind: ir.RuleAutofill, Field: "D", Template: "{A}-{B}"},
			{ID: "e", Kind: ir.RulePattern, Field: "A", Pattern: "^x$"},
			{
				ID:   "f",
				Kind: ir.RuleConditional,
				When: &ir.Condition{Field: "A", Equals: ptr("x")},
				Then: []ir.Rule{{ID: "f.0", Kind: ir.RuleRequired, Field: "C"}},
			},
		},
	}

	assert.Empty(t, Validate(rs))
}

func TestValidateWithoutFieldListSkipsRefs(t *testing.T) {
	rs := &ir.RuleSet{
		Rules: []ir.Rule{{ID: "a", Kind: ir.RuleRequired, Field: "ANYTHING"}},
	}
	assert.Empty(t, Validate(rs))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		rule ir.Rule
		code string
	}{
		{"unknown kind", ir.Rule{ID: "x", Kind: "between", Field: "A"}, ErrUnknownKind},
		{"missing field", ir.Rule{ID: "x", Kind: ir.RuleRequired}, ErrMissingField},
		{"allowed without values", ir.Rule{ID: "x", Kind: ir.RuleAllowed, Field: "A"}, ErrAllowedNoValues},
		{"range without bounds", ir.Rule{ID: "x", Kind: ir.RuleRange, Field: "A"}, ErrInvalidRange},
		{"range min > max", ir.Rule{ID: "x", Kind: ir.RuleRange, Field: "A", Min: ptr(5.0), Max: ptr(1.0)}, ErrInvalidRange},
		{"sum one field", ir.Rule{ID: "x", Kind: ir.RuleSum, Fields: []string{"A"}}, ErrInvalidSum},
		{"sum negative tolerance", ir.Rule{ID: "x", Kind: ir.RuleSum, Fields: []string{"A", "B"}, Tolerance: -1}, ErrInvalidSum},
		{"conditional without when", ir.Rule{ID: "x", Kind: ir.RuleConditional, Then: []ir.Rule{{ID: "x.0", Kind: ir.RuleRequired, Field: "A"}}}, ErrInvalidCondition},
		{"conditional without then", ir.Rule{ID: "x", Kind: ir.RuleConditional, When: &ir.Condition{Field: "A", NotEmpty: true}}, ErrInvalidCondition},
		{"conditional empty test", ir.Rule{ID: "x", Kind: ir.RuleConditional, When: &ir.Condition{Field: "A"}, Then: []ir.Rule{{ID: "x.0", Kind: ir.RuleRequired, Field: "B"}}}, ErrInvalidCondition},
		{"autofill without template", ir.Rule{ID: "x", Kind: ir.RuleAutofill, Field: "A"}, ErrAutofillTemplate},
		{"autofill empty placeholder", ir.Rule{ID: "x", Kind: ir.RuleAutofill, Field: "A", Template: "{}"}, ErrAutofillTemplate},
		{"bad regex", ir.Rule{ID: "x", Kind: ir.RulePattern, Field: "A", Pattern: "(unclosed"}, ErrInvalidPattern},
		{"empty pattern", ir.Rule{ID: "x", Kind: ir.RulePattern, Field: "A"}, ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&ir.RuleSet{Rules: []ir.Rule{tt.rule}})
			require.Len(t, errs, 1, "got %v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
		})
	}
}

func TestValidateUnknownFieldReferences(t *testing.T) {
	rs := &ir.RuleSet{
		Fields: []string{"A"},
		Rules: []ir.Rule{
			{ID: "r", Kind: ir.RuleRequired, Field: "B"},
			{ID: "s", Kind: ir.RuleSum, Fields: []string{"A", "C"}},
			{ID: "f", Kind: ir.RuleAutofill, Field: "A", Template: "{D}"},
			{
				ID:   "c",
				Kind: ir.RuleConditional,
				When: &ir.Condition{Field: "E", NotEmpty: true},
				Then: []ir.Rule{{ID: "c.0", Kind: ir.RuleRequired, Field: "F"}},
			},
		},
	}

	errs := Validate(rs)
	assert.Equal(t, []string{
		ErrUnknownFieldRef, ErrUnknownFieldRef, ErrUnknownFieldRef, ErrUnknownFieldRef, ErrUnknownFieldRef,
	}, codes(errs))
	assert.Equal(t, "rules[0].field", errs[0].Field)
	assert.Equal(t, "rules[1].fields[1]", errs[1].Field)
	assert.Equal(t, "rules[3].then[0].field", errs[4].Field)
}

func TestValidateDuplicateIDs(t *testing.T) {
	rs := &ir.RuleSet{
		Rules: []ir.Rule{
			{ID: "dup", Kind: ir.RuleRequired, Field: "A"},
			{ID: "dup", Kind: ir.RuleRequired, Field: "B"},
		},
	}

	errs := Validate(rs)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateRuleID, errs[0].Code)
	assert.Equal(t, "rules[1].id", errs[0].Field)
}

func TestValidateNestedAutofillRejected(t *testing.T) {
	rs := &ir.RuleSet{
		Rules: []ir.Rule{{
			ID:   "c",
			Kind: ir.RuleConditional,
			When: &ir.Condition{Field: "A", NotEmpty: true},
			Then: []ir.Rule{{ID: "c.0", Kind: ir.RuleAutofill, Field: "B", Template: "{A}"}},
		}},
	}

	errs := Validate(rs)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidCondition, errs[0].Code)
	assert.Contains(t, errs[0].Message, "cannot be nested")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	rs := &ir.RuleSet{
		Rules: []ir.Rule{
			{ID: "a", Kind: "nope"},
			{ID: "b", Kind: ir.RuleAllowed},
			{ID: "c", Kind: ir.RuleRange, Field: "C"},
		},
	}

	errs := Validate(rs)
	assert.Equal(t, []string{ErrUnknownKind, ErrMissingField, ErrAllowedNoValues, ErrInvalidRange}, codes(errs))
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "rules[0].kind", Message: "bad", Code: ErrUnknownKind}
	assert.Equal(t, "[E101] rules[0].kind: bad", err.Error())

	err.Line = 7
	assert.Equal(t, "[E101] line 7: rules[0].kind: bad", err.Error())
}

func TestTemplateFields(t *testing.T) {
	assert.Equal(t, []string{"DATE", "TIME"}, TemplateFields("{DATE} {TIME}"))
	assert.Equal(t, []string{"A"}, TemplateFields("prefix-{ A }"))
	assert.Empty(t, TemplateFields("no placeholders"))
}
