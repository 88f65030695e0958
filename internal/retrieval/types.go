package retrieval

import "contextfs/internal/model"

// ExpandHint estimates the token cost of following up on a search hit via
// timeline or get, so a caller can decide whether expanding is worth the
// budget (spec.md §4.9: "an expand hint estimating the token cost of
// timeline ... and get ... together with a size bucket").
type ExpandHint struct {
	TimelineTokens int    `json:"timeline_tokens"`
	GetTokens      int    `json:"get_tokens"`
	SizeBucket     string `json:"size_bucket"` // small | medium | large
}

// Row is one L0 (bounded, single-line) search/timeline hit (spec.md §4.9).
type Row struct {
	ID      string        `json:"id"`
	Ts      string        `json:"ts"`
	Type    model.TurnType `json:"type"`
	Source  model.Source  `json:"source"`
	Summary string        `json:"summary"`
	Score   float64       `json:"score,omitempty"`
	Match   string        `json:"match,omitempty"`
	Expand  *ExpandHint   `json:"expand,omitempty"`
}

// SearchInput is Search's request shape.
type SearchInput struct {
	Query   string
	K       int
	Scope   string
	Session SessionFilter
}

// SearchResult is Search's response shape.
type SearchResult struct {
	Rows           []Row
	Mode           string // "lexical" | "hybrid"
	FallbackReason string
}

// TimelineInput is Timeline's request shape.
type TimelineInput struct {
	AnchorID string
	Before   int
	After    int
	Session  SessionFilter
}

// TimelineResult is Timeline's response shape.
type TimelineResult struct {
	Rows []Row
}

// GetInput is Get's request shape. Head is a pointer so the zero value of
// the underlying JSON/CLI field can't be confused with an explicit request
// for it: nil means "not supplied, use opts.GetDefaultHead"; a non-nil 0
// means spec.md §8's documented boundary "head=0 (unbounded)" and must not
// be coerced into the default.
type GetInput struct {
	ID      string
	Head    *int
	Session SessionFilter
	JSON    bool
}

// GetResult is Get's response shape: exactly one of Text or JSONPayload is
// populated depending on GetInput.JSON.
type GetResult struct {
	Text           string
	JSONPayload    map[string]interface{}
	TruncatedFields []string
}

// SaveMemoryInput is save_memory's request shape.
type SaveMemoryInput struct {
	Text      string
	Title     string
	Role      string
	Type      string
	SessionID string
}

// SaveMemoryResult is save_memory's response shape.
type SaveMemoryResult struct {
	Record  model.Turn
	Preview string
}
