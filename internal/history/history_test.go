package history

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/cerrors"
	"contextfs/internal/fsstore"
	"contextfs/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	return New(fs)
}

func TestAppendAssignsIDAndIsReadable(t *testing.T) {
	s := newTestStore(t)
	turn, err := s.Append(model.Turn{Role: model.RoleUser, Text: "hello there"})
	require.NoError(t, err)
	assert.NotEmpty(t, turn.ID)
	assert.True(t, strings.HasPrefix(turn.ID, "H-"))

	turns, _, err := s.ReadHistory(false)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello there", turns[0].Text)
}

func TestAppendDisambiguatesCollidingIDs(t *testing.T) {
	s := newTestStore(t)
	fixedTurn := model.Turn{ID: "H-fixed", Role: model.RoleUser, Ts: "2024-01-01T00:00:00Z", Text: "a"}
	first, err := s.Append(fixedTurn)
	require.NoError(t, err)
	assert.Equal(t, "H-fixed", first.ID)

	second, err := s.Append(fixedTurn)
	require.NoError(t, err)
	assert.Equal(t, "H-fixed-1", second.ID)

	third, err := s.Append(fixedTurn)
	require.NoError(t, err)
	assert.Equal(t, "H-fixed-2", third.ID)
}

func TestReadHistoryMigratesBadLinesIdempotently(t *testing.T) {
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	s := New(fs)

	good := `{"role":"user","text":"fine line","ts":"2024-01-01T00:00:00Z"}`
	bad := `not json at all`
	require.NoError(t, fs.WriteTextAtomic(FileName, []byte(good+"\n"+bad+"\n")))

	turns1, report1, err := s.ReadHistory(true)
	require.NoError(t, err)
	require.Len(t, turns1, 1)
	assert.True(t, report1.Rewritten)
	assert.Equal(t, 1, report1.BadLinesThisRun)
	assert.Equal(t, 1, report1.TotalBadHashes)

	badRaw, err := fs.ReadText(BadFileName)
	require.NoError(t, err)
	assert.Contains(t, badRaw, "not json at all")

	turns2, report2, err := s.ReadHistory(true)
	require.NoError(t, err)
	require.Len(t, turns2, 1)
	assert.False(t, report2.Rewritten, "second pass should find nothing new to migrate")

	badRaw2, err := fs.ReadText(BadFileName)
	require.NoError(t, err)
	assert.Equal(t, badRaw, badRaw2, "quarantine file must be stable across repeated migration passes")
}

func TestReadHistoryFallsBackTsOnMissingOrInvalid(t *testing.T) {
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	s := New(fs)

	lines := `{"role":"user","text":"one"}
{"role":"assistant","text":"two","ts":"not-a-time"}
`
	require.NoError(t, fs.WriteTextAtomic(FileName, []byte(lines)))

	turns, _, err := s.ReadHistory(false)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.NotEmpty(t, turns[0].Ts)
	assert.NotEmpty(t, turns[1].Ts)
	assert.Less(t, turns[0].Ts, turns[1].Ts, "fallback ts must be monotonic within the batch")
}

func TestUpdateByIDAppliesPatchAndPreservesIdentity(t *testing.T) {
	s := newTestStore(t)
	turn, err := s.Append(model.Turn{Role: model.RoleUser, Text: "original"})
	require.NoError(t, err)

	updated, err := s.UpdateByID(turn.ID, func(t *model.Turn) {
		t.Tags = []string{"edited"}
	})
	require.NoError(t, err)
	assert.Equal(t, turn.ID, updated.ID)
	assert.Equal(t, turn.Ts, updated.Ts)
	assert.Equal(t, []string{"edited"}, updated.Tags)

	turns, _, err := s.ReadHistory(false)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, []string{"edited"}, turns[0].Tags)
}

func TestUpdateByIDMissingIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(model.Turn{Role: model.RoleUser, Text: "a"})
	require.NoError(t, err)

	_, err = s.UpdateByID("H-does-not-exist", func(t *model.Turn) {})
	require.Error(t, err)
	ce := cerrors.As(err)
	assert.Equal(t, cerrors.KindNotFound, ce.Kind)
}

func TestConcurrentAppendsProduceUniqueIDsAndAllLines(t *testing.T) {
	s := newTestStore(t)
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(model.Turn{Role: model.RoleUser, Text: "concurrent turn"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns, _, err := s.ReadHistory(false)
	require.NoError(t, err)
	require.Len(t, turns, n)

	seen := make(map[string]bool)
	for _, turn := range turns {
		require.NotEmpty(t, turn.ID)
		assert.False(t, seen[turn.ID], "expected unique id, got duplicate %q", turn.ID)
		seen[turn.ID] = true
	}
	assert.Len(t, seen, n)
}

type fakeIndexer struct {
	mu      sync.Mutex
	upserts []model.Turn
}

func (f *fakeIndexer) UpsertTurn(turn model.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, turn)
	return nil
}

func TestAppendUpsertsIntoIndexerAfterLockRelease(t *testing.T) {
	s := newTestStore(t)
	idx := &fakeIndexer{}
	s.SetIndexer(idx)

	_, err := s.Append(model.Turn{Role: model.RoleUser, Text: "indexed turn"})
	require.NoError(t, err)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	require.Len(t, idx.upserts, 1)
	assert.Equal(t, "indexed turn", idx.upserts[0].Text)
}

func TestWriteOverwritesWholeLog(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(model.Turn{Role: model.RoleUser, Text: "first"})
	require.NoError(t, err)

	replacement := []model.Turn{
		{ID: "H-a", Ts: "2024-01-01T00:00:00Z", Role: model.RoleUser, Type: model.TypeQuery, Text: "only one now"},
	}
	require.NoError(t, s.Write(replacement))

	turns, _, err := s.ReadHistory(false)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "only one now", turns[0].Text)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	turns := []model.Turn{
		{ID: "H-1", Ts: "2024-01-01T00:00:00Z", Role: model.RoleUser, Type: model.TypeQuery, Refs: []string{}, Text: "hi"},
	}
	data := Encode(turns)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
	assert.Contains(t, string(data), `"text":"hi"`)
}
