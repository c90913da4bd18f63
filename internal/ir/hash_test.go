package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSetHashStable(t *testing.T) {
	rs := RuleSet{
		Name: "survey",
		Rules: []Rule{
			{ID: "substrate", Kind: RuleAllowed, Field: "SUBSTRATE", Values: []string{"sand", "rock"}},
		},
	}

	h1, err := RuleSetHash(rs)
	require.NoError(t, err)
	h2, err := RuleSetHash(rs)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestRuleSetHashOrderSensitive(t *testing.T) {
	a := Rule{ID: "a", Kind: RuleRequired, Field: "A"}
	b := Rule{ID: "b", Kind: RuleRequired, Field: "B"}

	h1, err := RuleSetHash(RuleSet{Rules: []Rule{a, b}})
	require.NoError(t, err)
	h2, err := RuleSetHash(RuleSet{Rules: []Rule{b, a}})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestDomainSeparation(t *testing.T) {
	assert.NotEqual(t,
		hashWithDomain(DomainRuleSet, []byte("{}")),
		hashWithDomain(DomainPlan, []byte("{}")))
}
