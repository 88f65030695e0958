package retrieval

import (
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/model"
)

// Timeline resolves anchorID to a single turn (hot first, then the
// archive), then returns a window of surrounding rows from whichever
// source list it resolved in (spec.md §4.9 "Timeline").
func (e *Engine) Timeline(in TimelineInput) (TimelineResult, error) {
	start := time.Now()
	before := clampWindow(in.Before, e.opts.TimelineBeforeDefault)
	after := clampWindow(in.After, e.opts.TimelineAfterDefault)

	tr := model.Trace{Command: "timeline", Inputs: map[string]interface{}{"anchor_id": in.AnchorID, "before": before, "after": after}}
	defer func() { e.emitTrace(&tr, start) }()

	hotTurns, _, err := e.history.ReadHistory(false)
	if err != nil {
		tr.OK = false
		tr.Error = err.Error()
		return TimelineResult{}, err
	}

	idx, found := findIndex(hotTurns, in.AnchorID, in.Session)
	if found == foundConflict {
		tr.OK = false
		tr.Error = "id conflict"
		return TimelineResult{}, cerrors.Conflict("timeline: anchor %q matches multiple turns across sessions", in.AnchorID)
	}
	if found == foundOne {
		window := sliceWindow(hotTurns, idx, before, after)
		rows := rowsFromTurns(window, model.SourceHot, e.opts)
		tr.OK = true
		tr.Ranking = rankingRows(rows, e.opts.TraceRankingMaxItems)
		return TimelineResult{Rows: rows}, nil
	}

	archiveTurns, err := e.archive.ReadArchive()
	if err != nil {
		tr.OK = false
		tr.Error = err.Error()
		return TimelineResult{}, err
	}
	idx, found = findIndex(archiveTurns, in.AnchorID, in.Session)
	if found == foundConflict {
		tr.OK = false
		tr.Error = "id conflict"
		return TimelineResult{}, cerrors.Conflict("timeline: anchor %q matches multiple turns across sessions", in.AnchorID)
	}
	if found == foundNone {
		tr.OK = false
		tr.Error = "not found"
		return TimelineResult{}, cerrors.NotFound("timeline: anchor %q not found", in.AnchorID)
	}

	window := sliceWindow(archiveTurns, idx, before, after)
	rows := rowsFromTurns(window, model.SourceArchive, e.opts)
	tr.OK = true
	tr.Ranking = rankingRows(rows, e.opts.TraceRankingMaxItems)
	return TimelineResult{Rows: rows}, nil
}

type foundState int

const (
	foundNone foundState = iota
	foundOne
	foundConflict
)

// findIndex locates anchorID within turns, applying the session filter
// when multiple turns share the id: exactly one session match resolves
// cleanly, more than one is a conflict (spec.md §4.9).
func findIndex(turns []model.Turn, anchorID string, session SessionFilter) (int, foundState) {
	var matches []int
	for i, t := range turns {
		if t.ID == anchorID {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return -1, foundNone
	}
	if len(matches) == 1 {
		return matches[0], foundOne
	}
	if !session.isID() {
		return -1, foundConflict
	}
	var filtered []int
	for _, i := range matches {
		if turns[i].SessionID == session.SessionID {
			filtered = append(filtered, i)
		}
	}
	if len(filtered) != 1 {
		return -1, foundConflict
	}
	return filtered[0], foundOne
}

func clampWindow(v, def int) int {
	if v < 0 {
		return def
	}
	if v > 20 {
		return 20
	}
	return v
}

func sliceWindow(turns []model.Turn, idx, before, after int) []model.Turn {
	lo := idx - before
	if lo < 0 {
		lo = 0
	}
	hi := idx + after + 1
	if hi > len(turns) {
		hi = len(turns)
	}
	return turns[lo:hi]
}

func rowsFromTurns(turns []model.Turn, source model.Source, opts Options) []Row {
	rows := make([]Row, 0, len(turns))
	for _, t := range turns {
		rows = append(rows, Row{
			ID:      t.ID,
			Ts:      t.Ts,
			Type:    t.Type,
			Source:  source,
			Summary: oneLine(t.Text, opts.SearchSummaryMaxChars),
		})
	}
	return rows
}
