// Package workspace wires every ContextFS layer into one boot sequence: the
// file store, pins, summary, history, archive, embedding views, optional
// derived index, compactor, packer, retrieval engine, state, and trace log.
// It is the shared entry point both cmd/ctx and the RPC tool server boot
// from (spec.md §2 "Data flow").
package workspace

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"contextfs/internal/archive"
	"contextfs/internal/cerrors"
	"contextfs/internal/compactor"
	"contextfs/internal/config"
	"contextfs/internal/embedding"
	"contextfs/internal/embedview"
	"contextfs/internal/fsstore"
	"contextfs/internal/history"
	"contextfs/internal/index"
	"contextfs/internal/logging"
	"contextfs/internal/manifest"
	"contextfs/internal/model"
	"contextfs/internal/packer"
	"contextfs/internal/pins"
	"contextfs/internal/retrieval"
	"contextfs/internal/state"
	"contextfs/internal/summary"
	"contextfs/internal/trace"
)

// Engine is a booted ContextFS workspace: every store plus the derived
// engines (compactor, retrieval) built on top of them.
type Engine struct {
	Config *config.Config

	FS       *fsstore.Store
	Pins     *pins.Store
	Summary  *summary.Store
	History  *history.Store
	Archive  *archive.Store
	Embed    *embedview.Store
	State    *state.Store
	Trace    *trace.Store
	Manifest *manifest.Store

	Provider   embedding.Provider
	Compactor  *compactor.Compactor
	Retrieval  *retrieval.Engine
	Summarizer compactor.Summarizer
}

// Boot loads config from <workspaceDir>/<contextfsDir>/config.yaml (or
// defaults, if absent), initializes logging, and wires every layer.
func Boot(workspaceDir string) (*Engine, error) {
	dirGuess := filepath.Join(workspaceDir, ".contextfs")
	cfgPath := filepath.Join(dirGuess, "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	contextfsDir := filepath.Join(workspaceDir, cfg.ContextfsDir)
	if err := logging.Initialize(contextfsDir, cfg.Logging); err != nil {
		return nil, cerrors.Internal(err, "workspace: init logging")
	}

	fs, err := fsstore.New(contextfsDir, cfg.LockStaleMs)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Config:   cfg,
		FS:       fs,
		Pins:     pins.New(fs, cfg.PinsMaxItems),
		Summary:  summary.New(fs, cfg.SummaryMaxChars),
		History:  history.New(fs),
		Archive:  archive.New(fs),
		State:    state.New(fs),
		Trace:    trace.New(fs, cfg.TracesMaxBytes, cfg.TracesMaxFiles),
		Manifest: manifest.New(fs),
	}

	e.Provider = newProvider(cfg)
	e.Embed = embedview.New(fs, e.Provider, cfg.VectorDim, cfg.EmbeddingModel)
	e.Summarizer = newSummarizer(cfg)
	e.Compactor = compactor.New(fs, e.History, e.Archive, e.Pins, e.Summary, e.State, e.Embed, e.Summarizer)

	e.Retrieval = retrieval.New(e.History, e.Archive, e.Embed, e.Provider, e.State, e.Trace, retrieval.Options{
		SearchDefaultK:        cfg.SearchDefaultK,
		SearchSummaryMaxChars: cfg.SearchSummaryMaxChars,
		CandidateFloor:        cfg.FusionCandidateMax,
		RetrievalMode:         cfg.RetrievalMode,
		VectorEnabled:         cfg.VectorEnabled,
		VectorTopN:            cfg.VectorTopN,
		VectorMinSimilarity:   cfg.VectorMinSimilarity,
		FusionRrfK:            cfg.FusionRrfK,
		TimelineBeforeDefault: cfg.TimelineBeforeDefault,
		TimelineAfterDefault:  cfg.TimelineAfterDefault,
		GetDefaultHead:        cfg.GetDefaultHead,
		TraceRankingMaxItems:  cfg.TraceRankingMaxItems,
		TraceQueryMaxChars:    cfg.TraceQueryMaxChars,
		EmbeddingDim:          cfg.VectorDim,
		EmbeddingModel:        cfg.EmbeddingModel,
	})

	if _, err := e.State.ReadState(); err != nil {
		return nil, err
	}
	if err := e.ensureSession(); err != nil {
		return nil, err
	}

	return e, nil
}

// newProvider selects an embedding.Provider from cfg.VectorProvider
// (spec.md §6: "none|fake|custom|siliconflow"). "custom"/"siliconflow"
// both resolve to the generic HTTP provider, pointed at whatever
// embeddingBaseUrl the config names; "none" and anything unrecognized
// resolve to the deterministic fake so vector-enabled code paths remain
// exercisable without a live provider.
func newProvider(cfg *config.Config) embedding.Provider {
	switch cfg.VectorProvider {
	case "custom", "siliconflow":
		return embedding.NewHTTPProvider(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingAPIKey,
			time.Duration(cfg.EmbeddingTimeoutMs)*time.Millisecond)
	default:
		return embedding.NewFakeProvider(cfg.VectorDim, cfg.EmbeddingModel)
	}
}

// extractiveSummarizer is the default compactor.Summarizer: it runs
// summary.Normalize over the prompt locally, with no network call.
// ContextFS has no bundled LLM client (the
// summarizer is spec'd as pluggable, spec.md §1 "out of scope"), so the
// default is a local extractive summarizer; a real deployment supplies its
// own compactor.Summarizer at Engine construction time.
type extractiveSummarizer struct{}

func (extractiveSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	return summary.Normalize(prompt, 4000), nil
}

func newSummarizer(cfg *config.Config) compactor.Summarizer {
	_ = cfg
	return extractiveSummarizer{}
}

func (e *Engine) ensureSession() error {
	st, err := e.State.ReadState()
	if err != nil {
		return err
	}
	if st.CurrentSessionID != "" {
		return nil
	}
	_, err = e.State.UpdatePatch(func(s *model.State) {
		s.CurrentSessionID = uuid.NewString()
		s.SessionCount++
		s.LastSessionCreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	})
	return err
}

// Pack builds the bounded context block from the current pins, summary,
// manifest, state.lastSearchIndex, and the last recentTurns hot turns
// (spec.md §4.8).
func (e *Engine) Pack() (packer.Result, error) {
	pinRows, err := e.Pins.Load()
	if err != nil {
		return packer.Result{}, err
	}
	summaryText, err := e.Summary.Load()
	if err != nil {
		return packer.Result{}, err
	}
	manifestRaw, err := e.Manifest.Load()
	if err != nil {
		return packer.Result{}, err
	}
	st, err := e.State.ReadState()
	if err != nil {
		return packer.Result{}, err
	}
	hotTurns, _, err := e.History.ReadHistory(true)
	if err != nil {
		return packer.Result{}, err
	}

	recent := hotTurns
	if len(recent) > e.Config.RecentTurns {
		recent = recent[len(recent)-e.Config.RecentTurns:]
	}

	result := packer.Build(packer.Input{
		Pins:               pinRows,
		Summary:            summaryText,
		ManifestLines:      manifest.Lines(manifestRaw, e.Config.ManifestMaxLines),
		RetrievalIndex:     st.LastSearchIndex,
		RecentTurns:        recent,
		TokenThreshold:     e.Config.TokenThreshold,
		DelimiterStart:     e.Config.PackDelimiterStart,
		DelimiterEnd:       e.Config.PackDelimiterEnd,
		SummaryMinChars:    e.Config.PackSummaryMinChars,
		WorksetHeadBudget:  e.Config.EmbeddingTextMaxChars,
	})

	if _, err := e.State.UpdatePatch(func(s *model.State) {
		s.LastPackTokens = result.Details.EstimatedTokens
		s.WorksetUsed = result.Details.WorksetUsed
	}); err != nil {
		logging.Get(logging.CategoryPacker).Warn("workspace: failed to record pack stats: %v", err)
	}

	return result, nil
}

// MaybeAutoCompact runs the compactor with Force=false when AutoCompact is
// enabled, so callers can invoke it after every ingested turn without
// needing to know the threshold themselves.
func (e *Engine) MaybeAutoCompact(ctx context.Context) (compactor.Result, error) {
	if !e.Config.AutoCompact {
		return compactor.Result{Reason: "auto_compact_disabled"}, nil
	}
	return e.Compact(ctx, false)
}

// Compact runs the three-phase compaction procedure (spec.md §4.7). Either
// way — compacted or skipped as a no-op — it re-packs the workspace
// afterward and reports that figure as TotalTokens, so state.lastPackTokens
// always reflects the current hot log/summary/pins/manifest rather than
// compactor.Result's internal pre-compaction threshold-check estimate
// (spec.md §4.7: the state update carries "recomputed lastPackTokens").
// Using the same Pack() call both when compaction actually ran and when it
// was a no-op is also what makes spec.md §8 scenario 1 ("compact twice")
// hold: both calls measure tokens the same way, over the same settled
// state, so the two readings agree within noise instead of comparing two
// different estimators.
func (e *Engine) Compact(ctx context.Context, force bool) (compactor.Result, error) {
	res, err := e.Compactor.Compact(ctx, compactor.Options{
		Force:           force,
		AutoCompact:     e.Config.AutoCompact,
		RecentTurns:     e.Config.RecentTurns,
		TokenThreshold:  e.Config.TokenThreshold,
		SummaryMaxChars: e.Config.SummaryMaxChars,
		MaxRetries:      e.Config.CompactMaxRetries,
		BaseBackoff:     time.Duration(e.Config.CompactTimeoutMs/10) * time.Millisecond,
	})
	if err != nil {
		return res, err
	}

	packed, err := e.Pack()
	if err != nil {
		return res, err
	}
	res.TotalTokens = packed.Details.EstimatedTokens
	return res, nil
}

// Reindex rebuilds the derived SQLite index from the hot log, archive log,
// and embedding view (spec.md §4.6). It is a no-op, not an error, when
// indexEnabled is false.
func (e *Engine) Reindex(ctx context.Context) (index.DoctorReport, error) {
	if !e.Config.IndexEnabled {
		return index.DoctorReport{}, nil
	}
	path := e.Config.IndexPath
	if !filepath.IsAbs(path) {
		path = e.FS.Path(path)
	}
	idx, err := index.Open(path)
	if err != nil {
		return index.DoctorReport{}, err
	}
	defer idx.Close()

	hotTurns, _, err := e.History.ReadHistory(true)
	if err != nil {
		return index.DoctorReport{}, err
	}
	archiveTurns, err := e.Archive.ReadArchive()
	if err != nil {
		return index.DoctorReport{}, err
	}
	view, err := e.Embed.CombinedView()
	if err != nil {
		return index.DoctorReport{}, err
	}

	if err := idx.RebuildFromStorage(index.RebuildInput{
		Archive:          archiveTurns,
		Hot:              hotTurns,
		EmbeddingView:    view,
		Provider:         e.Provider.Name(),
		Model:            e.Config.EmbeddingModel,
		Dim:              e.Config.VectorDim,
		EmbeddingVersion: e.Config.EmbeddingModel,
	}); err != nil {
		return index.DoctorReport{}, err
	}

	return idx.Doctor(e.Provider.Name(), e.Config.EmbeddingModel, e.Config.EmbeddingModel, e.Config.VectorDim)
}

// GC regenerates the manifest and prunes embedding rows for turns that no
// longer exist in either the hot or archive log (spec.md §3: embedding
// views "staleness detection").
func (e *Engine) GC() (map[string]interface{}, error) {
	hotTurns, _, err := e.History.ReadHistory(true)
	if err != nil {
		return nil, err
	}
	archiveTurns, err := e.Archive.ReadArchive()
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(hotTurns)+len(archiveTurns))
	for _, t := range hotTurns {
		live[t.ID] = true
	}
	for _, t := range archiveTurns {
		live[t.ID] = true
	}

	prunedHot, err := e.Embed.PruneMissing(model.SourceHot, live)
	if err != nil {
		return nil, err
	}
	prunedArchive, err := e.Embed.PruneMissing(model.SourceArchive, live)
	if err != nil {
		return nil, err
	}

	var compactedHotEmbed, compactedArchiveEmbed bool
	if e.Config.EmbeddingAutoCompact {
		compactedHotEmbed, err = e.Embed.CompactIfNeeded(model.SourceHot, e.Config.EmbeddingHotMaxBytes, e.Config.EmbeddingDupRatioThreshold)
		if err != nil {
			return nil, err
		}
		compactedArchiveEmbed, err = e.Embed.CompactIfNeeded(model.SourceArchive, e.Config.EmbeddingArchiveMaxBytes, e.Config.EmbeddingDupRatioThreshold)
		if err != nil {
			return nil, err
		}
	}

	st, err := e.State.ReadState()
	if err != nil {
		return nil, err
	}
	if _, err := e.Manifest.Regenerate(e.Config, st); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"pruned_hot_embeddings":        prunedHot,
		"pruned_archive_embeddings":    prunedArchive,
		"compacted_hot_embeddings":     compactedHotEmbed,
		"compacted_archive_embeddings": compactedArchiveEmbed,
		"live_turns":                   len(live),
	}, nil
}

// Stats summarizes the workspace for `ctx stats`.
func (e *Engine) Stats() (map[string]interface{}, error) {
	st, err := e.State.ReadState()
	if err != nil {
		return nil, err
	}
	hotTurns, _, err := e.History.ReadHistory(false)
	if err != nil {
		return nil, err
	}
	archiveTurns, err := e.Archive.ReadArchive()
	if err != nil {
		return nil, err
	}
	pinRows, err := e.Pins.Load()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"state":          st,
		"hot_turns":      len(hotTurns),
		"archive_turns":  len(archiveTurns),
		"pins":           len(pinRows),
		"retrieval_mode": e.Config.RetrievalMode,
		"vector_enabled": e.Config.VectorEnabled,
	}, nil
}

// RecordTurn appends a turn to the hot log, opportunistically upserts its
// embedding when vector retrieval is enabled, and runs auto-compaction
// (spec.md §2 "Data flow": "new turn appended to the history log →
// embedding row upserted opportunistically").
func (e *Engine) RecordTurn(ctx context.Context, turn model.Turn) (model.Turn, error) {
	stored, err := e.History.Append(turn)
	if err != nil {
		return model.Turn{}, err
	}
	if e.Config.VectorEnabled {
		if _, err := e.Embed.UpsertTurn(ctx, stored, model.SourceHot); err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("workspace: opportunistic embed failed for %s: %v", stored.ID, err)
		}
	}
	if _, err := e.MaybeAutoCompact(ctx); err != nil {
		logging.Get(logging.CategoryCompactor).Warn("workspace: auto-compact failed: %v", err)
	}
	return stored, nil
}

// Close releases resources that outlive a single command (none currently
// need explicit teardown beyond what the GC'd stores already handle; this
// exists so callers have one symmetric Boot/Close pair to reason about).
func (e *Engine) Close() error { return nil }
