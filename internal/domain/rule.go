package domain

import "time"

// RuleSet is a versioned heuristic scoring table.
//
// Overrides are checked first; if any fires the application is force-rejected
// with ForcedScore and the labels of every override that fired. Otherwise each
// group contributes the weight of its first matching rule.
type RuleSet struct {
	Version     string         `json:"version"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	ForcedScore int            `json:"forcedScore"`
	Overrides   []OverrideRule `json:"overrides"`
	Groups      []SignalGroup  `json:"groups"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// OverrideRule forces rejection when its expression holds.
type OverrideRule struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Label      string `json:"label"`
}

// SignalGroup is an if/else-if chain over one applicant signal.
type SignalGroup struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Rules []ScoringRule `json:"rules"`
}

// ScoringRule contributes Weight when Expression holds.
// Positive weights label a positive factor, negative weights a negative one.
type ScoringRule struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Weight     int    `json:"weight"`
	Label      string `json:"label,omitempty"`
}
