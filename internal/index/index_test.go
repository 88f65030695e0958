package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTurn(id, ts, text string) model.Turn {
	return model.Turn{ID: id, Ts: ts, Role: model.RoleUser, Type: model.TypeQuery, Text: text}
}

func TestRebuildFromStorageHotWinsOverArchive(t *testing.T) {
	s := newTestStore(t)
	hot := []model.Turn{sampleTurn("H-1", "2024-01-01T00:01:00Z", "hot version of the turn")}
	archive := []model.Turn{sampleTurn("H-1", "2024-01-01T00:00:00Z", "archive version of the turn")}

	require.NoError(t, s.RebuildFromStorage(RebuildInput{
		Archive: archive,
		Hot:     hot,
		Dim:     8,
		Model:   "fake-test",
	}))

	var source, preview string
	err := s.db.QueryRow(`SELECT source, text_preview FROM turns WHERE id = ?`, "H-1").Scan(&source, &preview)
	require.NoError(t, err)
	assert.Equal(t, "hot", source)
	assert.Contains(t, preview, "hot version")
}

func TestLexicalSearchFindsMatchingText(t *testing.T) {
	s := newTestStore(t)
	turns := []model.Turn{
		sampleTurn("H-1", "2024-01-01T00:00:00Z", "deploy pipeline broke again"),
		sampleTurn("H-2", "2024-01-01T00:01:00Z", "unrelated weather chat"),
	}
	require.NoError(t, s.RebuildFromStorage(RebuildInput{Hot: turns, Dim: 8}))

	hits, err := s.LexicalSearch("deploy pipeline", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "H-1", hits[0].ID)
}

func TestVectorSearchReturnsTopSimilar(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RebuildFromStorage(RebuildInput{
		Hot: []model.Turn{sampleTurn("H-1", "2024-01-01T00:00:00Z", "x")},
		Dim: 3,
		EmbeddingView: map[string]model.EmbeddingRow{
			"H-1": {ID: "H-1", Dim: 3, Vec: []float32{1, 0, 0}},
			"H-2": {ID: "H-2", Dim: 3, Vec: []float32{0, 1, 0}},
		},
	}))

	hits, err := s.VectorSearch([]float32{1, 0, 0}, 5, 0.0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "H-1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 0.0001)
}

func TestVectorSearchAppliesMinSimilarityThreshold(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RebuildFromStorage(RebuildInput{
		Dim: 2,
		EmbeddingView: map[string]model.EmbeddingRow{
			"H-1": {ID: "H-1", Dim: 2, Vec: []float32{1, 0}},
			"H-2": {ID: "H-2", Dim: 2, Vec: []float32{0, 1}},
		},
	}))

	hits, err := s.VectorSearch([]float32{1, 0}, 5, 0.5, 100)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "H-1", hits[0].ID)
}

func TestDoctorReportsVectorTableMissingWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RebuildFromStorage(RebuildInput{Dim: 8, Model: "fake-test"}))

	report, err := s.Doctor("fake", "fake-test", "fake-v1", 8)
	require.NoError(t, err)
	assert.Equal(t, "vector_table_missing", report.Reason)
	assert.False(t, report.VectorAvailable)
}

func TestDoctorReportsDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RebuildFromStorage(RebuildInput{
		Dim:              8,
		Model:            "fake-test",
		EmbeddingVersion: "fake-v1",
		EmbeddingView: map[string]model.EmbeddingRow{
			"H-1": {ID: "H-1", Dim: 8, Vec: []float32{1, 0}},
		},
	}))

	report, err := s.Doctor("fake", "fake-test", "fake-v1", 16)
	require.NoError(t, err)
	assert.Equal(t, "dimension_mismatch", report.Reason)
}

func TestDoctorHealthyWhenEverythingMatches(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RebuildFromStorage(RebuildInput{
		Dim:              8,
		Provider:         "fake",
		Model:            "fake-test",
		EmbeddingVersion: "fake-v1",
		EmbeddingView: map[string]model.EmbeddingRow{
			"H-1": {ID: "H-1", Dim: 8, Vec: []float32{1, 0}},
		},
	}))

	report, err := s.Doctor("fake", "fake-test", "fake-v1", 8)
	require.NoError(t, err)
	assert.True(t, report.VectorAvailable)
	assert.Empty(t, report.Reason)
}
