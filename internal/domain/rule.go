package domain

// RiskRule is a rule-based (non-ML) risk flag.
type RiskRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression over the application fields; must return bool.
	Expression string `json:"expression"`

	// Reason is reported when the expression evaluates to true.
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`
}

// RiskResult is the output of a risk rule evaluation.
type RiskResult struct {
	RuleID    string `json:"ruleId"`
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}
