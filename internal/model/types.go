package model

// Decision is the command gating outcome.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
	Ask   Decision = "ask"
)

// Source identifies which layer of the gate produced a decision.
type Source string

const (
	SourceAllowlist Source = "allowlist"
	SourceDenylist  Source = "denylist"
	SourceLearned   Source = "learned"
	SourceLLM       Source = "llm"
	SourceError     Source = "error"
)

// RuleSuggestion is an optional pattern the evaluator proposes for learning.
type RuleSuggestion struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// EvalResult is the terminal outcome of gating one command.
// Produced exactly once per evaluation and never mutated afterwards.
type EvalResult struct {
	Decision   Decision        `json:"decision"`
	Source     Source          `json:"source"`
	Reason     string          `json:"reason"`
	Suggestion *RuleSuggestion `json:"suggestion,omitempty"`
}

// AskResult builds a fail-safe result for error paths. Failures must
// surface as "ask", never as "allow".
func AskResult(reason string) EvalResult {
	return EvalResult{Decision: Ask, Source: SourceError, Reason: reason}
}
