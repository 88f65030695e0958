package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeProviderIsDeterministic(t *testing.T) {
	p := NewFakeProvider(64, "fake-test")
	r1, err := p.Embed(context.Background(), "hello world", Options{})
	require.NoError(t, err)
	r2, err := p.Embed(context.Background(), "hello world", Options{})
	require.NoError(t, err)
	assert.Equal(t, r1.Vector, r2.Vector)
	assert.Equal(t, r1.TextHash, r2.TextHash)
}

func TestFakeProviderDifferentTextDiffers(t *testing.T) {
	p := NewFakeProvider(64, "fake-test")
	r1, err := p.Embed(context.Background(), "alpha", Options{})
	require.NoError(t, err)
	r2, err := p.Embed(context.Background(), "beta", Options{})
	require.NoError(t, err)
	assert.NotEqual(t, r1.Vector, r2.Vector)
}

func TestFakeProviderRespectsDimOption(t *testing.T) {
	p := NewFakeProvider(64, "fake-test")
	r, err := p.Embed(context.Background(), "text", Options{Dim: 16})
	require.NoError(t, err)
	assert.Len(t, r.Vector, 16)
}

func TestFakeProviderVectorIsUnitNormalized(t *testing.T) {
	p := NewFakeProvider(32, "fake-test")
	r, err := p.Embed(context.Background(), "normalize me", Options{})
	require.NoError(t, err)
	var sumSq float64
	for _, v := range r.Vector {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 0.01)
}

func TestCosineSimilarityIdenticalIsOne(t *testing.T) {
	v := []float32{0.6, 0.8}
	sim, err := CosineSimilarity(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 0.0001)
}

func TestCosineSimilarityDimensionMismatchErrors(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestNormalizeZeroVectorUnchanged(t *testing.T) {
	zero := []float32{0, 0, 0}
	assert.Equal(t, zero, Normalize(zero))
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, IsRetryableStatus(429))
	assert.True(t, IsRetryableStatus(503))
	assert.True(t, IsRetryableStatus(408))
	assert.False(t, IsRetryableStatus(200))
	assert.False(t, IsRetryableStatus(404))
}
