package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/fsstore"
	"contextfs/internal/model"
)

func newTestStore(t *testing.T, maxBytes int64, maxFiles int) *Store {
	t.Helper()
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	return New(fs, maxBytes, maxFiles)
}

func TestAppendAndReadTraces(t *testing.T) {
	s := newTestStore(t, 1<<20, 5)
	require.NoError(t, s.Append(model.Trace{TraceID: "T-1", Command: "search"}))
	require.NoError(t, s.Append(model.Trace{TraceID: "T-2", Command: "get"}))

	traces := s.ReadTraces(0)
	require.Len(t, traces, 2)
	assert.Equal(t, "T-2", traces[0].TraceID, "newest first")
	assert.Equal(t, "T-1", traces[1].TraceID)
}

func TestReadTracesRespectsTail(t *testing.T) {
	s := newTestStore(t, 1<<20, 5)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(model.Trace{TraceID: string(rune('A' + i))}))
	}
	traces := s.ReadTraces(2)
	require.Len(t, traces, 2)
	assert.Equal(t, "E", traces[0].TraceID)
	assert.Equal(t, "D", traces[1].TraceID)
}

func TestFindByIDAcrossRotation(t *testing.T) {
	s := newTestStore(t, 80, 5)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Append(model.Trace{TraceID: string(rune('a' + i%26)), Command: strings.Repeat("x", 10)}))
	}
	// at least one rotated file must now exist
	rotated, err := s.fs.ReadText(rotatedName(1))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)

	// every line exceeds maxBytes, so each file holds one trace and only the
	// newest maxFiles (p..t) survive; p sits in the oldest rotated file
	tr, ok := s.FindByID("p")
	require.True(t, ok)
	assert.Equal(t, "p", tr.TraceID)
}

func TestRotationDropsOldestBeyondMaxFiles(t *testing.T) {
	s := newTestStore(t, 40, 3)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append(model.Trace{TraceID: string(rune('a' + i%26)), Command: "search-search"}))
	}
	_, err := s.fs.ReadText(rotatedName(3))
	require.NoError(t, err)
	assert.False(t, s.fs.Exists(rotatedName(3)), "rotation must not keep more than maxFiles-1 generations")
}

func TestReadTracesEmptyStoreReturnsNil(t *testing.T) {
	s := newTestStore(t, 1<<20, 5)
	assert.Empty(t, s.ReadTraces(0))
}

func TestFindByIDMissingReturnsFalse(t *testing.T) {
	s := newTestStore(t, 1<<20, 5)
	_, ok := s.FindByID("nope")
	assert.False(t, ok)
}
