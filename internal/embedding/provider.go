// Package embedding provides the turn-embedding provider contract
// (spec.md §4.5) and a deterministic fake provider so tests and offline
// workspaces never need network access.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"

	"contextfs/internal/cerrors"
	"contextfs/internal/logging"
)

// Result is what a Provider returns for one piece of text
// (spec.md §4.5 "Provider contract").
type Result struct {
	Model            string
	Dim              int
	Vector           []float32
	Text             string
	TextHash         string
	EmbeddingVersion string
}

// Options adjusts a single Embed call.
type Options struct {
	Dim   int
	Model string
}

// Provider embeds text into a unit-normalized vector. Implementations:
// Fake (deterministic, offline), HTTP (external embedding service), or a
// caller-installed custom implementation (spec.md §4.5).
type Provider interface {
	Embed(ctx context.Context, text string, opts Options) (Result, error)
	Name() string
}

// TextHash returns the short content hash an EmbeddingRow is keyed on for
// staleness detection (spec.md §3 "Embedding row").
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}

// Normalize returns a unit-length copy of vec, leaving vec itself untouched.
// A zero-magnitude vector is returned unchanged (spec.md §4.5: "Vectors are
// unit-normalized before storage").
func Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors, or an error if their dimensions differ.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, cerrors.Internal(nil, "embedding: dimension mismatch %d != %d", len(a), len(b))
	}
	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

const fakeEmbeddingVersion = "fake-v1"

// FakeProvider generates pseudo-random unit vectors deterministically from
// a text's characters, so tests are reproducible without network
// (spec.md §4.5: "A deterministic test provider generates pseudo-random
// unit vectors from characters").
type FakeProvider struct {
	DefaultDim   int
	DefaultModel string
}

// NewFakeProvider returns a FakeProvider with the given default dimension
// and model name, used when a caller's Options leave them unset.
func NewFakeProvider(dim int, model string) *FakeProvider {
	if dim <= 0 {
		dim = 256
	}
	if model == "" {
		model = "fake-deterministic"
	}
	return &FakeProvider{DefaultDim: dim, DefaultModel: model}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) Embed(ctx context.Context, text string, opts Options) (Result, error) {
	dim := opts.Dim
	if dim <= 0 {
		dim = p.DefaultDim
	}
	model := opts.Model
	if model == "" {
		model = p.DefaultModel
	}

	timer := logging.StartTimer(logging.CategoryEmbedding, "FakeProvider.Embed")
	defer timer.Stop()

	vec := deterministicVector(text, dim)
	vec = Normalize(vec)

	return Result{
		Model:            model,
		Dim:              dim,
		Vector:           vec,
		Text:             text,
		TextHash:         TextHash(text),
		EmbeddingVersion: fakeEmbeddingVersion,
	}, nil
}

// deterministicVector derives dim pseudo-random components from text's
// bytes via a simple splitmix-style hash per component, so the same text
// always embeds to the same raw vector.
func deterministicVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := fnv64(text)
	state := seed
	for i := 0; i < dim; i++ {
		state = splitmix64(state)
		// map to [-1, 1)
		vec[i] = float32(int64(state>>11)%2000-1000) / 1000.0
	}
	return vec
}

func fnv64(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
