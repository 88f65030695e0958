package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/model"
)

// bootTestEngine writes a config.yaml with the smallest valid token_threshold (so 30
// short turns trigger compaction) and a small recent_turns (so the
// compacted hot log settles at a known size), then boots a real Engine
// against a temp workspace dir. Indexing and vector search are disabled to
// keep the test focused on the compaction/pack interaction.
func bootTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, ".contextfs")
	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	cfg := `auto_compact: true
recent_turns: 6
token_threshold: 256
index_enabled: false
vector_enabled: false
traces_enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0644))

	eng, err := Boot(dir)
	require.NoError(t, err)
	return eng
}

// TestCompactRecomputesLastPackTokens covers spec.md §8 scenario 1: writing
// enough short turns to cross token_threshold, then running compact twice,
// settles historyCount at recent_turns after both calls and reports two
// TotalTokens readings that agree within noise rather than the first call
// reporting a stale pre-compaction total.
func TestCompactRecomputesLastPackTokens(t *testing.T) {
	eng := bootTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := eng.History.Append(model.Turn{
			Role: model.RoleUser,
			Text: fmt.Sprintf("turn number %d with a bit of filler text", i),
		})
		require.NoError(t, err)
	}

	first, err := eng.Compact(ctx, false)
	require.NoError(t, err)
	assert.True(t, first.Compacted, "30 short turns over token_threshold=256 must trigger compaction")
	assert.Equal(t, 6, first.NewHotCount)

	hot, _, err := eng.History.ReadHistory(false)
	require.NoError(t, err)
	assert.Len(t, hot, 6, "historyCount must settle at recent_turns after the first compact")

	second, err := eng.Compact(ctx, false)
	require.NoError(t, err)
	assert.False(t, second.Compacted, "nothing left to retire once hot log matches recent_turns")

	hot, _, err = eng.History.ReadHistory(false)
	require.NoError(t, err)
	assert.Len(t, hot, 6, "historyCount must stay at recent_turns after the second compact")

	diff := first.TotalTokens - second.TotalTokens
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 5, "repeated compacts over settled state must report near-identical recomputed token totals")

	st, err := eng.State.ReadState()
	require.NoError(t, err)
	assert.Equal(t, second.TotalTokens, st.LastPackTokens, "state.lastPackTokens must reflect the recomputed post-compaction figure")
}
