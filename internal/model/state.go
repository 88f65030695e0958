package model

// SearchIndexRow is one entry of state.lastSearchIndex — the only place
// retrieval leaves a durable imprint the packer can inject (spec.md §4.10).
type SearchIndexRow struct {
	ID      string   `json:"id"`
	Ts      string   `json:"ts"`
	Type    TurnType `json:"type"`
	Source  Source   `json:"source"`
	Summary string   `json:"summary"`
}

// State is ContextFS's single JSON state file (spec.md §3 "State").
type State struct {
	Version      int    `json:"version"`
	Revision     int    `json:"revision"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`

	CurrentSessionID     string `json:"currentSessionId"`
	SessionCount         int    `json:"sessionCount"`
	LastSessionCreatedAt string `json:"lastSessionCreatedAt,omitempty"`

	LastCompactedAt string `json:"lastCompactedAt,omitempty"`
	CompactCount    int    `json:"compactCount"`
	LastPackTokens  int    `json:"lastPackTokens"`

	LastSearchHits  int               `json:"lastSearchHits"`
	LastSearchQuery string            `json:"lastSearchQuery,omitempty"`
	LastSearchAt    string            `json:"lastSearchAt,omitempty"`
	LastSearchIndex []SearchIndexRow  `json:"lastSearchIndex"`
	SearchCount     int               `json:"searchCount"`

	TimelineCount int `json:"timelineCount"`
	GetCount      int `json:"getCount"`
	StatsCount    int `json:"statsCount"`

	LastTimelineAnchor string `json:"lastTimelineAnchor,omitempty"`
	WorksetUsed        int    `json:"worksetUsed"`

	BadLineCount          int    `json:"badLineCount"`
	LastMigrationBadLines int    `json:"lastMigrationBadLines"`
	LastMigrationAt       string `json:"lastMigrationAt,omitempty"`
}
