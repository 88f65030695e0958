package pins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/fsstore"
)

func newTestStore(t *testing.T, max int) *Store {
	t.Helper()
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	return New(fs, max)
}

func TestAddAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, 10)
	_, added, err := s.Add("always use tabs not spaces")
	require.NoError(t, err)
	assert.True(t, added)

	pins, err := s.Load()
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, "always use tabs not spaces", pins[0].Text)
}

func TestAddDedupExactCaseFold(t *testing.T) {
	s := newTestStore(t, 10)
	_, _, err := s.Add("Never Delete Prod Data")
	require.NoError(t, err)
	_, added, err := s.Add("never delete prod data")
	require.NoError(t, err)
	assert.False(t, added)

	pins, _ := s.Load()
	assert.Len(t, pins, 1)
}

func TestAddNearDuplicateCollapses(t *testing.T) {
	s := newTestStore(t, 10)
	_, _, err := s.Add("the deploy pipeline always runs tests before shipping to prod")
	require.NoError(t, err)
	_, added, err := s.Add("the deploy pipeline always runs tests before shipping somewhere else")
	require.NoError(t, err)
	assert.False(t, added, "shares 24+ char prefix, should collapse")
}

func TestAddCapsAtMaxItems(t *testing.T) {
	s := newTestStore(t, 3)
	for i := 0; i < 5; i++ {
		_, _, err := s.Add(distinctPin(i))
		require.NoError(t, err)
	}
	pins, err := s.Load()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(pins), 3)
}

func distinctPin(i int) string {
	names := []string{
		"zzz alpha constraint one two three four",
		"yyy beta constraint five six seven eight",
		"xxx gamma constraint nine ten eleven twelve",
		"www delta constraint thirteen fourteen fifteen",
		"vvv epsilon constraint sixteen seventeen eighteen",
	}
	return names[i%len(names)]
}

func TestPinsParseSerializeParseFixedPoint(t *testing.T) {
	s := newTestStore(t, 10)
	_, _, _ = s.Add("pin one here")
	_, _, _ = s.Add("pin two here")
	first, err := s.Load()
	require.NoError(t, err)

	serialized := Serialize(first)
	second := parseLines(serialized)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestLoadEmptyFileReturnsEmpty(t *testing.T) {
	s := newTestStore(t, 10)
	pins, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, pins)
}
