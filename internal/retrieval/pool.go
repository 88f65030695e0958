// Package retrieval implements ContextFS's read/write surface over the
// conversational memory store (spec.md §4.9): search, timeline, get, and
// save_memory, all operating over a hot+archive pool and all emitting a
// durable retrieval trace.
package retrieval

import (
	"sort"

	"contextfs/internal/archive"
	"contextfs/internal/history"
	"contextfs/internal/model"
)

// Scope restricts a pool read to hot only, archive only, or both.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeHot     Scope = "hot"
	ScopeArchive Scope = "archive"
)

// NormalizeScope folds any unrecognized or empty value to ScopeAll.
func NormalizeScope(raw string) Scope {
	switch Scope(raw) {
	case ScopeHot:
		return ScopeHot
	case ScopeArchive:
		return ScopeArchive
	default:
		return ScopeAll
	}
}

// SessionFilter narrows a pool to one session id.
type SessionFilter struct {
	Mode      string // "all" | "id"
	SessionID string
}

func (f SessionFilter) isID() bool { return f.Mode == "id" && f.SessionID != "" }

// poolEntry pairs a turn with the pool it surfaced from, since the same id
// can exist in both hot and archive during the window around a compaction.
type poolEntry struct {
	turn   model.Turn
	source model.Source
}

// pools bundles the raw per-source turn lists a caller may need (timeline
// slices from the source list the anchor resolved in, not the merged
// pool).
type pools struct {
	hot     []model.Turn
	archive []model.Turn
	merged  []poolEntry
}

// readPool loads hot and archive turns per scope and merges them by id,
// hot winning on conflict, sorted by ts ascending (spec.md §4.9
// "read_pool(scope) merges hot and archive views by id (hot wins, sorted
// by ts)").
func readPool(h *history.Store, a *archive.Store, scope Scope) (pools, error) {
	var out pools

	if scope == ScopeAll || scope == ScopeHot {
		hotTurns, _, err := h.ReadHistory(false)
		if err != nil {
			return pools{}, err
		}
		out.hot = hotTurns
	}
	if scope == ScopeAll || scope == ScopeArchive {
		archiveTurns, err := a.ReadArchive()
		if err != nil {
			return pools{}, err
		}
		out.archive = archiveTurns
	}

	byID := make(map[string]poolEntry, len(out.hot)+len(out.archive))
	for _, t := range out.archive {
		byID[t.ID] = poolEntry{turn: t, source: model.SourceArchive}
	}
	for _, t := range out.hot {
		byID[t.ID] = poolEntry{turn: t, source: model.SourceHot} // hot wins
	}
	merged := make([]poolEntry, 0, len(byID))
	for _, e := range byID {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].turn.Ts < merged[j].turn.Ts })
	out.merged = merged
	return out, nil
}

// sessionPool filters merged pool entries to one session id when
// filter.Mode == "id" (spec.md §4.9 "session_pool(pool, mode, id)").
func sessionPool(entries []poolEntry, filter SessionFilter) []poolEntry {
	if !filter.isID() {
		return entries
	}
	var out []poolEntry
	for _, e := range entries {
		if e.turn.SessionID == filter.SessionID {
			out = append(out, e)
		}
	}
	return out
}
