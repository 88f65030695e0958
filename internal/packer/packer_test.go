package packer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/model"
)

func sampleInput() Input {
	var turns []model.Turn
	for i := 0; i < 5; i++ {
		turns = append(turns, model.Turn{
			ID:   "H-" + string(rune('a'+i)),
			Ts:   "2024-01-01T00:00:0" + string(rune('0'+i)) + "Z",
			Role: model.RoleUser,
			Type: model.TypeQuery,
			Text: "turn text " + string(rune('a'+i)),
		})
	}
	return Input{
		Pins:    []model.Pin{{ID: "P-1", Text: "pin one"}, {ID: "P-2", Text: "pin two"}},
		Summary: "a rolling summary of everything so far",
		ManifestLines: []string{
			"file_a.go", "file_b.go", "file_c.go", "file_d.go", "file_e.go",
		},
		RetrievalIndex: []model.SearchIndexRow{
			{ID: "H-a", Ts: "2024-01-01T00:00:00Z", Type: model.TypeQuery, Source: model.SourceHot, Summary: "row one"},
		},
		RecentTurns:     turns,
		TokenThreshold:  6000,
		DelimiterStart:  "<<<BEGIN>>>",
		DelimiterEnd:    "<<<END>>>",
		SummaryMinChars: 256,
	}
}

func TestBuildWithinThresholdIncludesAllSections(t *testing.T) {
	in := sampleInput()
	res := Build(in)

	assert.True(t, strings.HasPrefix(res.Block, in.DelimiterStart))
	assert.True(t, strings.HasSuffix(res.Block, in.DelimiterEnd))
	assert.Contains(t, res.Block, "pin one")
	assert.Contains(t, res.Block, "rolling summary")
	assert.Contains(t, res.Block, "file_a.go")
	assert.Contains(t, res.Block, "row one")
	assert.Contains(t, res.Block, "turn text")
	assert.False(t, res.Details.MinimalMode)
	assert.False(t, res.Details.EmergencyMode)
	assert.Equal(t, 5, res.Details.RecentTurns)
	assert.LessOrEqual(t, res.Details.EstimatedTokens, in.TokenThreshold)
}

func TestBuildShrinksRecentTurnsFirst(t *testing.T) {
	in := sampleInput()
	in.TokenThreshold = 40 // forces shrinking but should still leave at least 1 turn before deeper cuts
	res := Build(in)
	assert.LessOrEqual(t, res.Details.RecentTurns, 1)
}

func TestBuildFallsBackToMinimalModeWhenThresholdTiny(t *testing.T) {
	in := sampleInput()
	in.TokenThreshold = 5
	res := Build(in)
	assert.True(t, res.Details.MinimalMode || res.Details.EmergencyMode)
}

func TestBuildEmergencyModeHardTruncatesAndUsesSafeDelimiters(t *testing.T) {
	in := sampleInput()
	in.DelimiterStart = "<<<CUSTOM_START>>>"
	in.DelimiterEnd = "<<<CUSTOM_END>>>"
	in.TokenThreshold = 1
	res := Build(in)
	assert.True(t, res.Details.EmergencyMode)
	assert.True(t, strings.HasPrefix(res.Block, safeDelimiterStart))
	assert.LessOrEqual(t, len(res.Block), 2+16) // threshold*2 clamp to >=16
}

func TestSanitizeEscapesDelimitersInsideSections(t *testing.T) {
	in := sampleInput()
	in.Pins = []model.Pin{{ID: "P-1", Text: "contains <<<BEGIN>>> inline"}}
	res := Build(in)
	assert.NotContains(t, strings.TrimPrefix(strings.TrimSuffix(res.Block, in.DelimiterEnd), in.DelimiterStart), in.DelimiterStart)
	assert.Contains(t, res.Block, beginEscaped)
}

func TestBuildNoPinsSummaryManifestRendersPlaceholders(t *testing.T) {
	in := Input{
		TokenThreshold:  6000,
		SummaryMinChars: 256,
	}
	res := Build(in)
	assert.Contains(t, res.Block, "(none)")
}

func TestBuildEmptyRecentTurnsOmitsWorkset(t *testing.T) {
	in := sampleInput()
	in.RecentTurns = nil
	res := Build(in)
	assert.Equal(t, 0, res.Details.RecentTurns)
	assert.Equal(t, 0, res.Details.WorksetUsed)
}

func TestBuildTokenBreakdownSumsToTotal(t *testing.T) {
	in := sampleInput()
	res := Build(in)
	tk := res.Details.Tokens
	sum := tk.Pins + tk.Summary + tk.Manifest + tk.Retrieval + tk.Workset + tk.Overhead
	require.Equal(t, tk.Total, sum)
}

func TestBuildDefaultsAppliedWhenInputZeroValue(t *testing.T) {
	res := Build(Input{})
	assert.NotEmpty(t, res.Block)
	assert.True(t, strings.HasPrefix(res.Block, safeDelimiterStart))
}
