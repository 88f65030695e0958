package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextfs/internal/archive"
	"contextfs/internal/embedding"
	"contextfs/internal/embedview"
	"contextfs/internal/fsstore"
	"contextfs/internal/history"
	"contextfs/internal/model"
	"contextfs/internal/state"
	"contextfs/internal/trace"
)

// vectorProvider returns a fixed vector per exact text match, falling back
// to the zero vector, so hybrid-fusion tests can control similarity
// without depending on the fake hash provider's pseudo-randomness.
type vectorProvider struct {
	dim     int
	vectors map[string][]float32
}

func (p *vectorProvider) Name() string { return "test-vector" }

func (p *vectorProvider) Embed(ctx context.Context, text string, opts embedding.Options) (embedding.Result, error) {
	vec, ok := p.vectors[text]
	if !ok {
		vec = make([]float32, p.dim)
	}
	return embedding.Result{
		Model:            "test-vector",
		Dim:              p.dim,
		Vector:           embedding.Normalize(vec),
		Text:             text,
		TextHash:         embedding.TextHash(text),
		EmbeddingVersion: "test-v1",
	}, nil
}

type rig struct {
	fs      *fsstore.Store
	history *history.Store
	archive *archive.Store
	embed   *embedview.Store
	state   *state.Store
	trace   *trace.Store
}

func newRig(t *testing.T, provider embedding.Provider) rig {
	t.Helper()
	fs, err := fsstore.New(t.TempDir(), 1000)
	require.NoError(t, err)
	return rig{
		fs:      fs,
		history: history.New(fs),
		archive: archive.New(fs),
		embed:   embedview.New(fs, provider, 4, "test-vector"),
		state:   state.New(fs),
		trace:   trace.New(fs, 5*1024*1024, 5),
	}
}

func seedTurn(t *testing.T, r rig, ts, role, text string, sessionID string) model.Turn {
	t.Helper()
	turn, err := r.history.Append(model.Turn{
		Ts:        ts,
		SessionID: sessionID,
		Role:      model.NormalizeRole(role),
		Type:      model.InferType(model.NormalizeRole(role)),
		Text:      text,
	})
	require.NoError(t, err)
	return turn
}

func ts(minute int) string {
	return time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC).Format(time.RFC3339Nano)
}

func TestSearchLexicalRanksByTokenHits(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	seedTurn(t, r, ts(0), "user", "deploy pipeline broke again this morning", "")
	seedTurn(t, r, ts(1), "user", "unrelated weather chat about rain", "")

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	res, err := eng.Search(context.Background(), SearchInput{Query: "deploy pipeline"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows)
	assert.Contains(t, res.Rows[0].Summary, "deploy pipeline")
	assert.Equal(t, "lexical", res.Rows[0].Match)
}

func TestSearchEmptyQueryReturnsUsageError(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	_, err := eng.Search(context.Background(), SearchInput{Query: "   "})
	require.Error(t, err)
}

func TestSearchHybridFusionPrefersEntriesInBothBranches(t *testing.T) {
	provider := &vectorProvider{dim: 2, vectors: map[string][]float32{
		"query about rockets":            {1, 0},
		"rocket launch delayed again":    {1, 0},
		"totally unrelated gardening tip": {0, 1},
	}}
	r := newRig(t, provider)
	seedTurn(t, r, ts(0), "user", "rocket launch delayed again", "")
	seedTurn(t, r, ts(1), "user", "totally unrelated gardening tip", "")

	eng := New(r.history, r.archive, r.embed, provider, r.state, r.trace, Options{
		RetrievalMode: "hybrid", VectorEnabled: true, VectorMinSimilarity: 0.5, EmbeddingDim: 2,
	})
	res, err := eng.Search(context.Background(), SearchInput{Query: "query about rockets"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows)
	assert.Equal(t, "hybrid", res.Mode)
	assert.Contains(t, res.Rows[0].Summary, "rocket launch")
}

func TestTimelineReturnsWindowAroundAnchor(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	var anchor model.Turn
	for i := 0; i < 5; i++ {
		turn := seedTurn(t, r, ts(i), "user", "turn body", "")
		if i == 2 {
			anchor = turn
		}
	}
	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	res, err := eng.Timeline(TimelineInput{AnchorID: anchor.ID, Before: 1, After: 1})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, anchor.ID, res.Rows[1].ID)
}

func TestTimelineAnchorNotFoundReturnsNotFound(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	_, err := eng.Timeline(TimelineInput{AnchorID: "H-doesnotexist"})
	require.Error(t, err)
}

func TestTimelineSessionConflictReturnsConflictError(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	// Force a duplicate id by writing the hot log directly.
	dup := model.Turn{ID: "H-dup", Ts: ts(0), SessionID: "s1", Role: model.RoleUser, Type: model.TypeQuery, Text: "a"}
	dup2 := model.Turn{ID: "H-dup", Ts: ts(1), SessionID: "s2", Role: model.RoleUser, Type: model.TypeQuery, Text: "b"}
	require.NoError(t, r.history.Write([]model.Turn{dup, dup2}))

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	_, err := eng.Timeline(TimelineInput{AnchorID: "H-dup"})
	require.Error(t, err)
}

func TestGetTextModeTruncatesWithEllipsis(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	turn := seedTurn(t, r, ts(0), "user", "a fairly long piece of turn text to truncate", "")

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	res, err := eng.Get(GetInput{ID: turn.ID, Head: headOf(10)})
	require.NoError(t, err)
	assert.True(t, len(res.Text) <= 13)
	assert.Contains(t, res.Text, "...")
}

func TestGetJSONModeFitsWithinBudgetUnmodifiedWhenRoomy(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	turn := seedTurn(t, r, ts(0), "user", "short text", "")

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	res, err := eng.Get(GetInput{ID: turn.ID, Head: headOf(200_000), JSON: true})
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedFields)
	assert.Equal(t, "short text", res.JSONPayload["text"])
}

func TestGetJSONModeTrimsFieldsUnderTightBudget(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	turn, err := r.history.Append(model.Turn{
		Ts:   ts(0),
		Role: model.RoleUser,
		Type: model.TypeQuery,
		Refs: []string{"H-aaaaaaaaaaaa", "H-bbbbbbbbbbbb"},
		Tags: []string{"tag-one", "tag-two"},
		Text: "a much longer body of text that will need to be shrunk down repeatedly to fit a tight byte budget",
	})
	require.NoError(t, err)

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	res, err := eng.Get(GetInput{ID: turn.ID, Head: headOf(90), JSON: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TruncatedFields)
}

func TestGetJSONModeFallsBackToMinimalPayloadWhenBudgetTiny(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	turn := seedTurn(t, r, ts(0), "user", "text that is long enough to blow past a tiny budget for sure", "")

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	res, err := eng.Get(GetInput{ID: turn.ID, Head: headOf(5), JSON: true})
	require.NoError(t, err)
	assert.NotNil(t, res.JSONPayload)
}

func TestGetExplicitZeroHeadIsUnboundedNotDefault(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	longText := strings.Repeat("x", 500)
	turn := seedTurn(t, r, ts(0), "user", longText, "")

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{GetDefaultHead: 50})
	res, err := eng.Get(GetInput{ID: turn.ID, Head: headOf(0)})
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "...", "head=0 means unbounded, not a zero-length budget")
	assert.Contains(t, res.Text, longText)
}

func TestGetNilHeadFallsBackToConfiguredDefault(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	longText := strings.Repeat("x", 500)
	turn := seedTurn(t, r, ts(0), "user", longText, "")

	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{GetDefaultHead: 50})
	res, err := eng.Get(GetInput{ID: turn.ID})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "...", "omitting head must still apply opts.GetDefaultHead")
}

func headOf(n int) *int { return &n }

func TestSaveMemoryStoresTitledTextAndTagsIt(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})

	res, err := eng.SaveMemory(context.Background(), SaveMemoryInput{
		Text: "remember this fact", Title: "fact", Role: "assistant", Type: "note",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Record.Text, "remember this fact")
	assert.Contains(t, res.Record.Tags, "title:fact")
}

func TestSaveMemoryRejectsEmptyText(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	_, err := eng.SaveMemory(context.Background(), SaveMemoryInput{Text: "  "})
	require.Error(t, err)
}

func TestSaveMemoryRejectsInvalidType(t *testing.T) {
	r := newRig(t, embedding.NewFakeProvider(4, "fake"))
	eng := New(r.history, r.archive, r.embed, embedding.NewFakeProvider(4, "fake"), r.state, r.trace, Options{})
	_, err := eng.SaveMemory(context.Background(), SaveMemoryInput{Text: "hello", Type: "Not Valid!"})
	require.Error(t, err)
}

func TestTokenizeEmitsCJKNgrams(t *testing.T) {
	toks := tokenize("你好世界")
	assert.Contains(t, toks, "你好世界")
	assert.Contains(t, toks, "你好")
}
