package model

// RankingRow is one row of a retrieval trace's bounded ranking list
// (spec.md §3 "Retrieval trace").
type RankingRow struct {
	ID      string   `json:"id"`
	Ts      string   `json:"ts"`
	Type    TurnType `json:"type"`
	Source  Source   `json:"source"`
	Summary string   `json:"summary"`
	Score   float64  `json:"score"`
	Match   string   `json:"match,omitempty"`
}

// Trace is one retrieval-layer operation's durable record (spec.md §3
// "Retrieval trace"). It never contains full turn bodies.
type Trace struct {
	TraceID  string                 `json:"trace_id"`
	Ts       string                 `json:"ts"`
	OK       bool                   `json:"ok"`
	Command  string                 `json:"command"` // search|timeline|get
	Args     map[string]interface{} `json:"args,omitempty"`
	Query    string                 `json:"query,omitempty"`
	Inputs   map[string]interface{} `json:"inputs,omitempty"`
	Ranking  []RankingRow           `json:"ranking,omitempty"`
	Budgets  map[string]interface{} `json:"budgets,omitempty"`
	Truncation     map[string]interface{} `json:"truncation,omitempty"`
	StateRevision  int                    `json:"state_revision"`
	DurationMs     int64                  `json:"duration_ms"`
	Error          string                 `json:"error,omitempty"`
	FallbackReason string                 `json:"fallback_reason,omitempty"`
	Mode           string                 `json:"mode,omitempty"`
}
