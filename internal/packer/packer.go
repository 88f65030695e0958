// Package packer builds ContextFS's bounded context block (spec.md §4.8):
// pins, rolling summary, manifest, retrieval index, and the recent-turns
// workset, shrunk progressively until the estimated token count fits the
// configured threshold.
package packer

import (
	"fmt"
	"strings"

	"contextfs/internal/model"
	"contextfs/internal/tokens"
)

const (
	beginEscaped = "[[CONTEXTFS_BEGIN_ESCAPED]]"
	endEscaped   = "[[CONTEXTFS_END_ESCAPED]]"

	safeDelimiterStart = "<<<BEGIN>>>"
	safeDelimiterEnd   = "<<<END>>>"

	summaryShrinkStep  = 128
	manifestMinLines   = 4
	pinsMinCount       = 1
)

// Input is everything the packer needs to build one block.
type Input struct {
	Pins            []model.Pin
	Summary         string
	ManifestLines   []string
	RetrievalIndex  []model.SearchIndexRow
	RecentTurns     []model.Turn

	TokenThreshold      int
	DelimiterStart      string
	DelimiterEnd        string
	SummaryMinChars     int
	WorksetHeadBudget   int // per-turn text truncation budget inside the workset section
}

// SectionTokens is the per-section token breakdown Details carries.
type SectionTokens struct {
	Pins      int
	Summary   int
	Manifest  int
	Retrieval int
	Workset   int
	Overhead  int
	Total     int
}

// Details reports what the packer actually emitted, for callers/tests that
// need to see the shrink path taken (spec.md §4.8).
type Details struct {
	PinsCount           int
	SummaryChars        int
	ManifestLines       int
	RecentTurns         int
	RetrievalIndexItems int
	WorksetUsed         int
	MinimalMode         bool
	EmergencyMode       bool
	EstimatedTokens     int
	Tokens              SectionTokens
}

// Result is the packer's output.
type Result struct {
	Block   string
	Details Details
}

const defaultWorksetHeadBudget = 400

// Build produces {block, details} with estimate_tokens(block) <=
// tokenThreshold, shrinking in the fixed order spec.md §4.8 lists.
func Build(in Input) Result {
	if in.DelimiterStart == "" {
		in.DelimiterStart = safeDelimiterStart
	}
	if in.DelimiterEnd == "" {
		in.DelimiterEnd = safeDelimiterEnd
	}
	if in.SummaryMinChars <= 0 {
		in.SummaryMinChars = 256
	}
	if in.WorksetHeadBudget <= 0 {
		in.WorksetHeadBudget = defaultWorksetHeadBudget
	}
	if in.TokenThreshold <= 0 {
		in.TokenThreshold = 6000
	}

	st := shrinkState{
		keptTurns:       len(in.RecentTurns),
		retrievalRows:   len(in.RetrievalIndex),
		summaryCap:      len(in.Summary),
		manifestCap:     len(in.ManifestLines),
		pinsCap:         len(in.Pins),
	}

	for step := 0; step <= 4; step++ {
		for {
			block, details := render(in, st, false, false)
			est := tokens.Estimate(block)
			details.EstimatedTokens = est
			if est <= in.TokenThreshold {
				return Result{Block: block, Details: details}
			}
			prev := st
			advance(&st, step, in)
			if st == prev {
				break
			}
		}
	}

	// Minimal mode (step 6): short placeholders.
	block, details := render(in, st, true, false)
	details.EstimatedTokens = tokens.Estimate(block)
	if details.EstimatedTokens <= in.TokenThreshold {
		return Result{Block: block, Details: details}
	}

	// Emergency mode (step 7): safe default delimiters, hard truncate.
	in.DelimiterStart = safeDelimiterStart
	in.DelimiterEnd = safeDelimiterEnd
	block, details = render(in, st, true, true)
	maxChars := in.TokenThreshold * 2
	if maxChars < 16 {
		maxChars = 16
	}
	if len(block) > maxChars {
		block = block[:maxChars]
	}
	details.EmergencyMode = true
	details.EstimatedTokens = tokens.Estimate(block)
	return Result{Block: block, Details: details}
}

type shrinkState struct {
	keptTurns     int
	retrievalRows int
	summaryCap    int
	manifestCap   int
	pinsCap       int
}

// advance applies shrink step `step` (0-indexed, matching spec.md §4.8's
// numbered list 1-7 minus one) to st in place.
func advance(st *shrinkState, step int, in Input) {
	switch step {
	case 0: // 1. decrement kept turns down to 1
		if st.keptTurns > 1 {
			st.keptTurns--
		}
	case 1: // 2. drop retrieval-index rows from the tail
		if st.retrievalRows > 0 {
			st.retrievalRows--
		}
	case 2: // 3. reduce summary cap by 128 chars until packSummaryMinChars
		if st.summaryCap > in.SummaryMinChars {
			st.summaryCap -= summaryShrinkStep
			if st.summaryCap < in.SummaryMinChars {
				st.summaryCap = in.SummaryMinChars
			}
		}
	case 3: // 4. reduce manifest cap by one line until 4
		if st.manifestCap > manifestMinLines {
			st.manifestCap--
		}
	case 4: // 5. reduce pins count by one until 1
		if st.pinsCap > pinsMinCount {
			st.pinsCap--
		}
	case 5, 6:
		// handled by the minimal/emergency render branches below
	}
}

func render(in Input, st shrinkState, minimal bool, emergency bool) (string, Details) {
	pinsSection := renderPins(in.Pins, st.pinsCap, minimal)
	summarySection := renderSummary(in.Summary, st.summaryCap, minimal)
	manifestSection := renderManifest(in.ManifestLines, st.manifestCap, minimal)
	retrievalSection, retrievalCount := renderRetrieval(in.RetrievalIndex, st.retrievalRows, minimal)
	worksetSection, worksetUsed := renderWorkset(in.RecentTurns, st.keptTurns, in.WorksetHeadBudget, minimal)

	pinsSection = sanitize(pinsSection, in.DelimiterStart, in.DelimiterEnd)
	summarySection = sanitize(summarySection, in.DelimiterStart, in.DelimiterEnd)
	manifestSection = sanitize(manifestSection, in.DelimiterStart, in.DelimiterEnd)
	retrievalSection = sanitize(retrievalSection, in.DelimiterStart, in.DelimiterEnd)
	worksetSection = sanitize(worksetSection, in.DelimiterStart, in.DelimiterEnd)

	var b strings.Builder
	b.WriteString(in.DelimiterStart)
	b.WriteString("\n## ContextFS Pack\n### PINS\n")
	b.WriteString(pinsSection)
	b.WriteString("\n### SUMMARY\n")
	b.WriteString(summarySection)
	b.WriteString("\n### MANIFEST\n")
	b.WriteString(manifestSection)
	b.WriteString("\n### RETRIEVAL_INDEX\n")
	b.WriteString(retrievalSection)
	b.WriteString("\n### WORKSET_RECENT_TURNS\n")
	b.WriteString(worksetSection)
	b.WriteString("\n")
	b.WriteString(in.DelimiterEnd)
	block := b.String()

	secTokens := SectionTokens{
		Pins:      tokens.Estimate(pinsSection),
		Summary:   tokens.Estimate(summarySection),
		Manifest:  tokens.Estimate(manifestSection),
		Retrieval: tokens.Estimate(retrievalSection),
		Workset:   tokens.Estimate(worksetSection),
	}
	secTokens.Overhead = tokens.Estimate(block) - secTokens.Pins - secTokens.Summary - secTokens.Manifest - secTokens.Retrieval - secTokens.Workset
	secTokens.Total = tokens.Estimate(block)

	details := Details{
		PinsCount:           st.pinsCap,
		SummaryChars:        len(summarySection),
		ManifestLines:       st.manifestCap,
		RecentTurns:         st.keptTurns,
		RetrievalIndexItems: retrievalCount,
		WorksetUsed:         worksetUsed,
		MinimalMode:         minimal,
		EmergencyMode:       emergency,
		Tokens:              secTokens,
	}
	return block, details
}

func renderPins(pins []model.Pin, cap int, minimal bool) string {
	if minimal {
		return "(trimmed)"
	}
	if cap < 0 {
		cap = 0
	}
	if cap > len(pins) {
		cap = len(pins)
	}
	kept := pins[:cap]
	if len(kept) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, p := range kept {
		b.WriteString("- ")
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSummary(summary string, cap int, minimal bool) string {
	if minimal {
		return "(trimmed)"
	}
	s := strings.TrimSpace(summary)
	if s == "" {
		return "(none)"
	}
	if cap > 0 && len(s) > cap {
		s = s[:cap]
	}
	return s
}

func renderManifest(lines []string, cap int, minimal bool) string {
	if minimal {
		return "(trimmed)"
	}
	if cap < 0 {
		cap = 0
	}
	if cap > len(lines) {
		cap = len(lines)
	}
	kept := lines[:cap]
	if len(kept) == 0 {
		return "(none)"
	}
	return strings.Join(kept, "\n")
}

func renderRetrieval(rows []model.SearchIndexRow, cap int, minimal bool) (string, int) {
	if minimal || cap <= 0 {
		if minimal {
			return "(trimmed)", 0
		}
		return "(none)", 0
	}
	if cap > len(rows) {
		cap = len(rows)
	}
	kept := rows[:cap]
	var b strings.Builder
	for _, r := range kept {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n", r.ID, r.Ts, r.Type, r.Source, r.Summary)
	}
	return strings.TrimRight(b.String(), "\n"), len(kept)
}

func renderWorkset(turns []model.Turn, keep int, headBudget int, minimal bool) (string, int) {
	if minimal {
		return "(trimmed)", 0
	}
	if keep <= 0 {
		return "(none)", 0
	}
	if keep > len(turns) {
		keep = len(turns)
	}
	kept := turns[len(turns)-keep:]
	var b strings.Builder
	for i, t := range kept {
		text := t.Text
		if len(text) > headBudget {
			text = text[:headBudget] + "..."
		}
		fmt.Fprintf(&b, "%d. %s | %s | %s | %s\n", i+1, t.ID, t.Role, t.Type, text)
	}
	return strings.TrimRight(b.String(), "\n"), len(kept)
}

// sanitize replaces any occurrence of the configured delimiters inside a
// section with an escaped marker, so the final block carries exactly one
// opening and one closing delimiter (spec.md §4.8).
func sanitize(section, delimStart, delimEnd string) string {
	section = strings.ReplaceAll(section, delimStart, beginEscaped)
	section = strings.ReplaceAll(section, delimEnd, endEscaped)
	return section
}
