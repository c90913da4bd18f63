package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a rule conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is the CUE rules directory. LoadScenario resolves it relative
	// to the scenario file.
	Rules string `yaml:"rules"`

	// Fields is the entry field order. When empty, the rule set's fields
	// are used, followed by any other keys of the case entry in sorted order.
	Fields []string `yaml:"fields,omitempty"`

	// Cases are evaluated independently, in order.
	Cases []Case `yaml:"cases"`
}

// Case is one entry and its expected outcome.
type Case struct {
	Name   string            `yaml:"name"`
	Entry  map[string]string `yaml:"entry"`
	Expect Expect            `yaml:"expect"`
}

// Expect is the expected outcome of a case.
type Expect struct {
	// Pass is the expected overall result. Nil means "pass unless
	// Violations lists something".
	Pass *bool `yaml:"pass,omitempty"`

	// Violations are the rule IDs expected to fail, in any order.
	Violations []string `yaml:"violations,omitempty"`

	// Filled are field values expected after autofill.
	Filled map[string]string `yaml:"filled,omitempty"`
}

// WantPass resolves the expected pass/fail outcome.
func (e Expect) WantPass() bool {
	if e.Pass != nil {
		return *e.Pass
	}
	return len(e.Violations) == 0
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the rules path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) && basePath != "" {
		scenario.Rules = filepath.Join(basePath, scenario.Rules)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. The rules path is left
// as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Rules == "" {
		return fmt.Errorf("rules directory is required")
	}

	if len(s.Cases) == 0 {
		return fmt.Errorf("cases list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.Name == "" {
			return fmt.Errorf("case %d: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("case %d: duplicate name %q", i, c.Name)
		}
		seen[c.Name] = true

		if c.Expect.Pass != nil && *c.Expect.Pass && len(c.Expect.Violations) > 0 {
			return fmt.Errorf("case %q: expect.pass is true but violations are listed", c.Name)
		}
	}

	return nil
}
