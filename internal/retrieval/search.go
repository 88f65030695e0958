package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/embedding"
	"contextfs/internal/logging"
	"contextfs/internal/model"
	"contextfs/internal/tokens"
)

type scored struct {
	entry poolEntry
	score float64
}

// Search ranks the session-filtered pool against query, blending a
// lexical branch with an optional vector branch under Reciprocal-Rank
// Fusion (spec.md §4.9 "Search").
func (e *Engine) Search(ctx context.Context, in SearchInput) (SearchResult, error) {
	start := time.Now()
	k := in.K
	if k <= 0 {
		k = e.opts.SearchDefaultK
	}
	if k > 50 {
		k = 50
	}
	query := strings.TrimSpace(in.Query)

	tr := model.Trace{Command: "search", Query: truncateForTrace(query, e.opts.TraceQueryMaxChars)}
	defer func() { e.emitTrace(&tr, start) }()

	if query == "" {
		tr.OK = false
		tr.Error = "query must not be empty"
		return SearchResult{}, cerrors.Usage("search: query must not be empty")
	}

	scope := NormalizeScope(in.Scope)
	p, err := readPool(e.history, e.archive, scope)
	if err != nil {
		tr.OK = false
		tr.Error = err.Error()
		return SearchResult{}, err
	}
	pool := sessionPool(p.merged, in.Session)

	candidateMax := k
	if e.opts.CandidateFloor > candidateMax {
		candidateMax = e.opts.CandidateFloor
	}

	lexical := e.lexicalBranch(pool, query, candidateMax)

	var vector []scored
	fallbackReason := ""
	mode := "lexical"
	if e.opts.RetrievalMode == "hybrid" && e.opts.VectorEnabled {
		v, verr := e.vectorBranch(ctx, pool, query, maxInt(k, e.opts.VectorTopN, candidateMax))
		if verr != nil {
			fallbackReason = verr.Error()
			logging.Get(logging.CategoryRetrieval).Warn("search: vector branch failed, falling back to lexical: %v", verr)
		} else {
			vector = v
			mode = "hybrid"
		}
	}

	rows := e.fuse(lexical, vector, mode)
	if len(rows) > k {
		rows = rows[:k]
	}

	tr.OK = true
	tr.Mode = mode
	tr.FallbackReason = fallbackReason
	tr.Ranking = rankingRows(rows, e.opts.TraceRankingMaxItems)

	return SearchResult{Rows: rows, Mode: mode, FallbackReason: fallbackReason}, nil
}

// lexicalBranch scores each pool entry by token-hit count (+3 per text
// hit, +4 per ref hit) plus type/recency boosts, keeps score>0, and
// returns up to limit candidates sorted score desc then ts desc
// (spec.md §4.9).
func (e *Engine) lexicalBranch(pool []poolEntry, query string, limit int) []scored {
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return nil
	}

	newest := newestTs(pool)
	var out []scored
	for _, entry := range pool {
		s := lexicalScore(entry.turn, qTokens, newest)
		if s > 0 {
			out = append(out, scored{entry: entry, score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].turn().Ts > out[j].turn().Ts
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s scored) turn() model.Turn { return s.entry.turn }

func lexicalScore(t model.Turn, qTokens map[string]bool, newest time.Time) float64 {
	var score float64
	textTokens := tokenize(t.Text)
	for _, tok := range textTokens {
		if qTokens[tok] {
			score += 3
		}
	}
	for _, ref := range t.Refs {
		if qTokens[strings.ToLower(ref)] {
			score += 4
		}
	}
	if score == 0 {
		return 0
	}

	switch t.Type {
	case model.TypeQuery:
		score += 0.5
	case model.TypeResponse:
		score += 0.2
	}

	if ts, err := time.Parse(time.RFC3339Nano, t.Ts); err == nil && !ts.After(newest) {
		ageHours := newest.Sub(ts).Hours()
		score += 0.2 / (1 + ageHours)
	}
	return score
}

func newestTs(pool []poolEntry) time.Time {
	var newest time.Time
	for _, e := range pool {
		ts, err := time.Parse(time.RFC3339Nano, e.turn.Ts)
		if err == nil && ts.After(newest) {
			newest = ts
		}
	}
	return newest
}

// vectorBranch embeds the query and every stale/missing pool entry, then
// ranks by cosine similarity >= VectorMinSimilarity (spec.md §4.9).
func (e *Engine) vectorBranch(ctx context.Context, pool []poolEntry, query string, limit int) ([]scored, error) {
	var hotTurns, archiveTurns []model.Turn
	for _, p := range pool {
		if p.source == model.SourceArchive {
			archiveTurns = append(archiveTurns, p.turn)
		} else {
			hotTurns = append(hotTurns, p.turn)
		}
	}
	if len(hotTurns) > 0 {
		if _, err := e.embed.RebuildStale(ctx, hotTurns, model.SourceHot); err != nil {
			return nil, err
		}
	}
	if len(archiveTurns) > 0 {
		if _, err := e.embed.RebuildStale(ctx, archiveTurns, model.SourceArchive); err != nil {
			return nil, err
		}
	}

	view, err := e.embed.CombinedView()
	if err != nil {
		return nil, err
	}

	queryRes, err := e.provider.Embed(ctx, query, embedding.Options{Dim: e.opts.EmbeddingDim, Model: e.opts.EmbeddingModel})
	if err != nil {
		return nil, err
	}

	var out []scored
	for _, entry := range pool {
		row, ok := view[entry.turn.ID]
		if !ok {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryRes.Vector, row.Vec)
		if err != nil {
			continue
		}
		if sim < e.opts.VectorMinSimilarity {
			continue
		}
		out = append(out, scored{entry: entry, score: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].turn().Ts > out[j].turn().Ts
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fuse applies Reciprocal-Rank Fusion when both branches produced
// candidates, otherwise returns whichever single branch is non-empty
// (spec.md §4.9: "Σ 1/(rrfK + rank_branch)").
func (e *Engine) fuse(lexical, vector []scored, mode string) []Row {
	if mode != "hybrid" || len(vector) == 0 {
		return toRows(lexical, matchTags(lexical, nil), e.opts)
	}
	if len(lexical) == 0 {
		return toRows(vector, matchTags(nil, vector), e.opts)
	}

	rrfScore := make(map[string]float64)
	byID := make(map[string]poolEntry)
	for rank, s := range lexical {
		id := s.turn().ID
		rrfScore[id] += 1.0 / float64(e.opts.FusionRrfK+rank+1)
		byID[id] = s.entry
	}
	for rank, s := range vector {
		id := s.turn().ID
		rrfScore[id] += 1.0 / float64(e.opts.FusionRrfK+rank+1)
		byID[id] = s.entry
	}

	tags := matchTags(lexical, vector)

	var merged []scored
	for id, entry := range byID {
		merged = append(merged, scored{entry: entry, score: rrfScore[id]})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].turn().Ts > merged[j].turn().Ts
	})

	return toRows(merged, tags, e.opts)
}

// matchTags records which branch(es) surfaced each id: hybrid (both),
// vector (vector only), lexical (lexical only or no vector branch ran).
func matchTags(lexical, vector []scored) map[string]string {
	tags := make(map[string]string)
	for _, s := range lexical {
		tags[s.turn().ID] = "lexical"
	}
	for _, s := range vector {
		id := s.turn().ID
		if _, inLexical := tags[id]; inLexical {
			tags[id] = "hybrid"
		} else {
			tags[id] = "vector"
		}
	}
	return tags
}

func toRows(items []scored, tags map[string]string, opts Options) []Row {
	rows := make([]Row, 0, len(items))
	for _, s := range items {
		t := s.turn()
		rows = append(rows, Row{
			ID:      t.ID,
			Ts:      t.Ts,
			Type:    t.Type,
			Source:  s.entry.source,
			Summary: oneLine(t.Text, opts.SearchSummaryMaxChars),
			Score:   math.Round(s.score*10000) / 10000,
			Match:   tags[t.ID],
			Expand:  buildExpandHint(t, opts),
		})
	}
	return rows
}

const getFixedOverheadTokens = 40

func buildExpandHint(t model.Turn, opts Options) *ExpandHint {
	windowSize := opts.TimelineBeforeDefault + opts.TimelineAfterDefault + 1
	perTurnTokens := tokens.Estimate(t.Text)
	timelineTokens := perTurnTokens * windowSize

	headText := t.Text
	if len(headText) > opts.GetDefaultHead {
		headText = headText[:opts.GetDefaultHead]
	}
	getTokens := tokens.Estimate(headText) + getFixedOverheadTokens

	bucket := "small"
	switch {
	case perTurnTokens >= 200:
		bucket = "large"
	case perTurnTokens >= 50:
		bucket = "medium"
	}

	return &ExpandHint{TimelineTokens: timelineTokens, GetTokens: getTokens, SizeBucket: bucket}
}

func oneLine(text string, maxChars int) string {
	s := strings.Join(strings.Fields(text), " ")
	if maxChars > 0 && len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}

func truncateForTrace(s string, maxChars int) string {
	if maxChars > 0 && len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func rankingRows(rows []Row, max int) []model.RankingRow {
	if max <= 0 {
		max = len(rows)
	}
	if max > len(rows) {
		max = len(rows)
	}
	out := make([]model.RankingRow, 0, max)
	for _, r := range rows[:max] {
		out = append(out, model.RankingRow{
			ID: r.ID, Ts: r.Ts, Type: r.Type, Source: r.Source,
			Summary: r.Summary, Score: r.Score, Match: r.Match,
		})
	}
	return out
}
