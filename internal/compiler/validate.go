package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/dropcam/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrUnknownKind      = "E101" // kind is not a known rule kind
	ErrMissingField     = "E102" // rule needs a field
	ErrAllowedNoValues  = "E103" // allowed rule without values
	ErrInvalidRange     = "E104" // range without bounds or min > max
	ErrInvalidSum       = "E105" // sum with < 2 fields or negative tolerance
	ErrInvalidCondition = "E106" // conditional without when/then
	ErrAutofillTemplate = "E107" // autofill without template or with bad placeholder
	ErrInvalidPattern   = "E108" // pattern does not compile
	ErrUnknownFieldRef  = "E109" // rule references a field not in fields
	ErrDuplicateRuleID  = "E110" // duplicate rule id
)

// placeholderPattern matches {FIELD} template placeholders.
var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// ValidationError represents a rule-set validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled rule set.
// Returns all errors found (does not fail-fast).
func Validate(rs *ir.RuleSet) []ValidationError {
	v := &validator{
		known: make(map[string]bool, len(rs.Fields)),
		ids:   make(map[string]bool),
	}
	for _, f := range rs.Fields {
		v.known[f] = true
	}
	for i, rule := range rs.Rules {
		v.validateRule(rule, fmt.Sprintf("rules[%d]", i))
	}
	return v.errs
}

type validator struct {
	known map[string]bool
	ids   map[string]bool
	errs  []ValidationError
}

func (v *validator) add(path, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   path,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

// checkRef reports E109 when a field list is declared and name is not in it.
func (v *validator) checkRef(path, name string) {
	if len(v.known) == 0 || name == "" {
		return
	}
	if !v.known[name] {
		v.add(path, ErrUnknownFieldRef, "field %q is not declared in fields", name)
	}
}

func (v *validator) validateRule(rule ir.Rule, path string) {
	if v.ids[rule.ID] {
		v.add(path+".id", ErrDuplicateRuleID, "duplicate rule id: %q", rule.ID)
	}
	v.ids[rule.ID] = true

	if !ir.ValidRuleKinds[rule.Kind] {
		v.add(path+".kind", ErrUnknownKind, "unknown rule kind %q", rule.Kind)
		return
	}

	needsField := rule.Kind != ir.RuleSum && rule.Kind != ir.RuleConditional
	if needsField {
		if strings.TrimSpace(rule.Field) == "" {
			v.add(path+".field", ErrMissingField, "%s rule %q requires a field", rule.Kind, rule.ID)
		} else {
			v.checkRef(path+".field", rule.Field)
		}
	}

	switch rule.Kind {
	case ir.RuleAllowed:
		if len(rule.Values) == 0 {
			v.add(path+".values", ErrAllowedNoValues, "allowed rule %q requires at least one value", rule.ID)
		}

	case ir.RuleRange:
		if rule.Min == nil && rule.Max == nil {
			v.add(path, ErrInvalidRange, "range rule %q requires min or max", rule.ID)
		}
		if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
			v.add(path, ErrInvalidRange, "range rule %q has min %g greater than max %g", rule.ID, *rule.Min, *rule.Max)
		}

	case ir.RuleSum:
		if len(rule.Fields) < 2 {
			v.add(path+".fields", ErrInvalidSum, "sum rule %q requires at least two fields", rule.ID)
		}
		if rule.Tolerance < 0 {
			v.add(path+".tolerance", ErrInvalidSum, "sum rule %q has negative tolerance", rule.ID)
		}
		for j, f := range rule.Fields {
			v.checkRef(fmt.Sprintf("%s.fields[%d]", path, j), f)
		}

	case ir.RulePattern:
		if rule.Pattern == "" {
			v.add(path+".pattern", ErrInvalidPattern, "pattern rule %q requires a pattern", rule.ID)
		} else if _, err := regexp.Compile(rule.Pattern); err != nil {
			v.add(path+".pattern", ErrInvalidPattern, "pattern rule %q: %v", rule.ID, err)
		}

	case ir.RuleAutofill:
		if rule.Template == "" {
			v.add(path+".template", ErrAutofillTemplate, "autofill rule %q requires a template", rule.ID)
		}
		for _, ref := range TemplateFields(rule.Template) {
			if ref == "" {
				v.add(path+".template", ErrAutofillTemplate, "autofill rule %q has an empty placeholder", rule.ID)
				continue
			}
			v.checkRef(path+".template", ref)
		}

	case ir.RuleConditional:
		if rule.When == nil || rule.When.Field == "" {
			v.add(path+".when", ErrInvalidCondition, "conditional rule %q requires a when clause", rule.ID)
		} else {
			v.checkRef(path+".when.field", rule.When.Field)
			if rule.When.Equals == nil && len(rule.When.In) == 0 && !rule.When.NotEmpty {
				v.add(path+".when", ErrInvalidCondition, "conditional rule %q: when needs equals, in or not_empty", rule.ID)
			}
		}
		if len(rule.Then) == 0 {
			v.add(path+".then", ErrInvalidCondition, "conditional rule %q requires at least one then rule", rule.ID)
		}
		for j, nested := range rule.Then {
			if nested.Kind == ir.RuleAutofill {
				v.add(fmt.Sprintf("%s.then[%d].kind", path, j), ErrInvalidCondition, "autofill cannot be nested in conditional rule %q", rule.ID)
				continue
			}
			v.validateRule(nested, fmt.Sprintf("%s.then[%d]", path, j))
		}
	}
}

// TemplateFields returns the field names referenced by {FIELD} placeholders,
// in order of appearance.
func TemplateFields(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
