// Package rules implements first-match-wins evaluation of command text
// against an ordered rule set.
package rules

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/SomaPrasanth/command-gateway-backend/internal/domain"
)

// Engine evaluates commands against rules. Evaluation has no side effects
// beyond logging and is safe to call concurrently.
type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Evaluate scans ruleset in order and returns the action of the first rule
// whose pattern matches anywhere in command (unanchored, like re.search).
// An empty set or no match yields a default block with the sentinel pattern.
// A stored pattern that no longer compiles is skipped and the scan continues;
// the store validates patterns at write time, so this indicates corruption
// rather than a per-request error.
func (e *Engine) Evaluate(command string, ruleset []domain.Rule) domain.Decision {
	for _, r := range ruleset {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			e.logger.Warn("skipping rule with malformed stored pattern",
				"rule_id", r.ID,
				"pattern", r.Pattern,
				"err", err,
			)
			continue
		}
		if re.MatchString(command) {
			return domain.Decision{
				Action:         r.Action,
				MatchedPattern: r.Pattern,
				RuleID:         r.ID,
			}
		}
	}
	return domain.Decision{
		Action:         domain.ActionBlock,
		MatchedPattern: domain.DefaultBlockPattern,
	}
}

// ValidatePattern compile-checks a pattern before it is ever written.
func ValidatePattern(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPattern, err)
	}
	return nil
}
