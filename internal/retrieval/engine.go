package retrieval

import (
	"contextfs/internal/archive"
	"contextfs/internal/embedding"
	"contextfs/internal/embedview"
	"contextfs/internal/history"
	"contextfs/internal/state"
	"contextfs/internal/trace"
)

// Options carries the config knobs retrieval operations need. Zero values
// fall back to the defaults noted alongside each field.
type Options struct {
	SearchDefaultK         int // default 10
	SearchSummaryMaxChars  int // default 160
	CandidateFloor         int // vectorTopN, used in candidateMax = max(k, this)
	RetrievalMode          string // "lexical" | "hybrid"
	VectorEnabled          bool
	VectorTopN             int     // default 20
	VectorMinSimilarity    float64 // default 0.35
	FusionRrfK             int     // default 60
	TimelineBeforeDefault  int     // default 5
	TimelineAfterDefault   int     // default 5
	GetDefaultHead         int     // default 2000
	TraceRankingMaxItems   int     // default 20
	TraceQueryMaxChars     int     // default 200
	EmbeddingDim           int
	EmbeddingModel         string
}

func (o Options) withDefaults() Options {
	if o.SearchDefaultK <= 0 {
		o.SearchDefaultK = 10
	}
	if o.SearchSummaryMaxChars <= 0 {
		o.SearchSummaryMaxChars = 160
	}
	if o.VectorTopN <= 0 {
		o.VectorTopN = 20
	}
	if o.CandidateFloor <= 0 {
		o.CandidateFloor = o.VectorTopN
	}
	if o.VectorMinSimilarity <= 0 {
		o.VectorMinSimilarity = 0.35
	}
	if o.FusionRrfK <= 0 {
		o.FusionRrfK = 60
	}
	if o.TimelineBeforeDefault <= 0 {
		o.TimelineBeforeDefault = 5
	}
	if o.TimelineAfterDefault <= 0 {
		o.TimelineAfterDefault = 5
	}
	if o.GetDefaultHead <= 0 {
		o.GetDefaultHead = 2000
	}
	if o.TraceRankingMaxItems <= 0 {
		o.TraceRankingMaxItems = 20
	}
	if o.TraceQueryMaxChars <= 0 {
		o.TraceQueryMaxChars = 200
	}
	return o
}

// Engine wires the stores retrieval's four commands read and write, plus
// the trace writer every command reports through (spec.md §4.9, §4.11).
type Engine struct {
	history  *history.Store
	archive  *archive.Store
	embed    *embedview.Store
	provider embedding.Provider
	state    *state.Store
	trace    *trace.Store
	opts     Options
}

// New returns a retrieval Engine over the given stores.
func New(h *history.Store, a *archive.Store, ev *embedview.Store, provider embedding.Provider, st *state.Store, tr *trace.Store, opts Options) *Engine {
	return &Engine{history: h, archive: a, embed: ev, provider: provider, state: st, trace: tr, opts: opts.withDefaults()}
}
