package domain

// RuleAction is what a matching rule does to a command.
type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionBlock RuleAction = "block"
)

// Valid reports whether the action is one of the known values.
func (a RuleAction) Valid() bool {
	return a == ActionAllow || a == ActionBlock
}

// Rule is a pattern+action pair. Rules are immutable once created and are
// evaluated in ascending ID order, so the lowest ID has the highest priority.
type Rule struct {
	ID          int64      `json:"id"`
	Pattern     string     `json:"pattern"`
	Action      RuleAction `json:"action"`
	Description string     `json:"description,omitempty"`
}

// DefaultBlockPattern is the sentinel reported when no rule matched.
const DefaultBlockPattern = "Default Block"

// Decision is the outcome of evaluating a command against the rule set.
// RuleID is zero for the default block (no rule matched).
type Decision struct {
	Action         RuleAction
	MatchedPattern string
	RuleID         int64
}

// DefaultBlock reports whether the decision came from the deny-by-default
// policy rather than a stored rule.
func (d Decision) DefaultBlock() bool {
	return d.RuleID == 0
}
