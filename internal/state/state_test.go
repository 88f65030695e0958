package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/fsstore"
	"contextfs/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	return New(fs)
}

func TestReadStateMissingFileReturnsDefaults(t *testing.T) {
	s := newTestStore(t)
	st, err := s.ReadState()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Revision)
	assert.Equal(t, currentVersion, st.Version)
	assert.NotEmpty(t, st.CreatedAt)
}

func TestUpdatePatchIncrementsRevisionAndSetsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	st1, err := s.UpdatePatch(func(st *model.State) {
		st.CurrentSessionID = "sess-1"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st1.Revision)
	assert.Equal(t, "sess-1", st1.CurrentSessionID)

	st2, err := s.UpdatePatch(func(st *model.State) {
		st.SearchCount++
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st2.Revision)
	assert.Equal(t, 1, st2.SearchCount)
	assert.Equal(t, "sess-1", st2.CurrentSessionID, "prior fields must survive a later patch")
}

func TestReadStateReflectsPersistedUpdate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdatePatch(func(st *model.State) {
		st.BadLineCount = 3
	})
	require.NoError(t, err)

	st, err := s.ReadState()
	require.NoError(t, err)
	assert.Equal(t, 3, st.BadLineCount)
	assert.Equal(t, 1, st.Revision)
}

func TestReadStateCorruptFileFallsBackToDefaults(t *testing.T) {
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	s := New(fs)
	require.NoError(t, fs.WriteTextAtomic(FileName, []byte("not json")))

	st, err := s.ReadState()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Revision)
}
