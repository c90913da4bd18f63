package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRuleSet = "dropcam/ruleset/v1"
	DomainPlan    = "dropcam/plan/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalValue converts a JSON-serializable Go value into the generic
// shape accepted by MarshalCanonical (maps, slices, strings, float64, bool).
func CanonicalValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RuleSetHash computes a stable identity for a compiled rule set.
// Two rule sets hash equal iff their canonical JSON forms are identical,
// so declaration order of rules matters and map ordering does not.
func RuleSetHash(rs RuleSet) (string, error) {
	return hashValue(DomainRuleSet, rs)
}

// PlanHash computes a stable identity for a rename plan.
func PlanHash(p Plan) (string, error) {
	return hashValue(DomainPlan, p)
}

func hashValue(domain string, v any) (string, error) {
	generic, err := CanonicalValue(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", domain, err)
	}
	canonical, err := MarshalCanonical(generic)
	if err != nil {
		return "", fmt.Errorf("%s: failed to marshal: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}
