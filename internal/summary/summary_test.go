package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/fsstore"
)

func TestNormalizeEnsuresHeader(t *testing.T) {
	out := Normalize("- one thing\n- another thing", 4000)
	assert.True(t, strings.HasPrefix(out, header))
}

func TestNormalizeStripsCodeFences(t *testing.T) {
	out := Normalize("```\n- one thing\n```", 4000)
	assert.NotContains(t, out, "```")
	assert.Contains(t, out, "- one thing")
}

func TestNormalizeDedupsBullets(t *testing.T) {
	out := Normalize("- Same Thing\n- same thing\n- different", 4000)
	count := strings.Count(out, "Same Thing") + strings.Count(out, "same thing")
	assert.Equal(t, 1, count)
}

func TestNormalizeCapsLength(t *testing.T) {
	long := strings.Repeat("- a rather long bullet point here\n", 500)
	out := Normalize(long, 256)
	assert.LessOrEqual(t, len(out), 256)
}

func TestReplacePersistsAndLoads(t *testing.T) {
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	s := New(fs, 4000)

	_, err = s.Replace("- decided to use postgres\n- avoid breaking api v1")
	require.NoError(t, err)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Contains(t, got, "decided to use postgres")
}

func TestLoadEmptyReturnsEmptyString(t *testing.T) {
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	s := New(fs, 4000)
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
