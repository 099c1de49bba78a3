package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SomaPrasanth/command-gateway-backend/internal/domain"
)

// SeedRule is one rule entry in a YAML seed file. Entries are inserted in
// file order, so earlier entries get lower IDs and higher priority.
type SeedRule struct {
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	Description string `yaml:"description,omitempty"`
}

type seedFile struct {
	Rules []SeedRule `yaml:"rules"`
}

// LoadSeedFile parses and validates a YAML rule seed file.
func LoadSeedFile(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if len(sf.Rules) == 0 {
		return nil, fmt.Errorf("seed file %s contains no rules", path)
	}

	out := make([]domain.Rule, 0, len(sf.Rules))
	for i, sr := range sf.Rules {
		if sr.Pattern == "" {
			return nil, fmt.Errorf("seed rule %d: pattern is required", i+1)
		}
		action := domain.RuleAction(sr.Action)
		if !action.Valid() {
			return nil, fmt.Errorf("seed rule %d: action must be %q or %q, got %q",
				i+1, domain.ActionAllow, domain.ActionBlock, sr.Action)
		}
		if err := ValidatePattern(sr.Pattern); err != nil {
			return nil, fmt.Errorf("seed rule %d: %w", i+1, err)
		}
		out = append(out, domain.Rule{
			Pattern:     sr.Pattern,
			Action:      action,
			Description: sr.Description,
		})
	}
	return out, nil
}
