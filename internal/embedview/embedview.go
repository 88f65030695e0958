// Package embedview implements the hot/archive embedding view
// (spec.md §4.5): two NDJSON files keyed by turn id, upserted through a
// pluggable embedding.Provider, with staleness detection and optional
// size/duplicate-ratio driven compaction.
package embedview

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"contextfs/internal/embedding"
	"contextfs/internal/fsstore"
	"contextfs/internal/logging"
	"contextfs/internal/model"
)

const (
	HotFileName     = "history.embedding.hot.ndjson"
	ArchiveFileName = "history.embedding.archive.ndjson"
)

// Store manages the embedding view under a workspace's fsstore.Store.
type Store struct {
	fs       *fsstore.Store
	provider embedding.Provider
	dim      int
	model    string
}

// New returns an embedview Store that embeds with provider at the given
// default dimension and model name.
func New(fs *fsstore.Store, provider embedding.Provider, dim int, model string) *Store {
	return &Store{fs: fs, provider: provider, dim: dim, model: model}
}

func fileFor(source model.Source) string {
	if source == model.SourceArchive {
		return ArchiveFileName
	}
	return HotFileName
}

func readRows(fs *fsstore.Store, name string) ([]model.EmbeddingRow, error) {
	raw, err := fs.ReadText(name)
	if err != nil {
		return nil, err
	}
	var rows []model.EmbeddingRow
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var row model.EmbeddingRow
		if json.Unmarshal([]byte(line), &row) == nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func writeRows(fs *fsstore.Store, name string, rows []model.EmbeddingRow) error {
	var b strings.Builder
	for _, r := range rows {
		line, err := json.Marshal(r)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return fs.WriteTextAtomic(name, []byte(b.String()))
}

// upsertRow replaces the row with a matching id, else appends.
func upsertRow(rows []model.EmbeddingRow, row model.EmbeddingRow) []model.EmbeddingRow {
	for i, r := range rows {
		if r.ID == row.ID {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

func removeRows(rows []model.EmbeddingRow, ids map[string]bool) []model.EmbeddingRow {
	var out []model.EmbeddingRow
	for _, r := range rows {
		if !ids[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// UpsertTurn embeds turn.Text via the configured provider and upserts the
// resulting row into the hot or archive file (per source) under lock.
func (s *Store) UpsertTurn(ctx context.Context, turn model.Turn, source model.Source) (model.EmbeddingRow, error) {
	res, err := s.provider.Embed(ctx, turn.Text, embedding.Options{Dim: s.dim, Model: s.model})
	if err != nil {
		return model.EmbeddingRow{}, err
	}
	row := model.EmbeddingRow{
		ID:               turn.ID,
		Ts:               turn.Ts,
		SessionID:        turn.SessionID,
		Source:           source,
		Model:            res.Model,
		Dim:              res.Dim,
		TextHash:         res.TextHash,
		EmbeddingVersion: res.EmbeddingVersion,
		Vec:              res.Vector,
	}
	name := fileFor(source)
	err = s.fs.WithLock(func() error {
		rows, err := readRows(s.fs, name)
		if err != nil {
			return err
		}
		rows = upsertRow(rows, row)
		return writeRows(s.fs, name, rows)
	})
	if err != nil {
		return model.EmbeddingRow{}, err
	}
	return row, nil
}

// PromoteToArchive moves the rows with the given ids from the hot file to
// the archive file, re-tagging their source (spec.md §4.5: "on archival,
// rows are promoted to the archive file and removed from the hot file").
func (s *Store) PromoteToArchive(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.fs.WithLock(func() error {
		return s.promoteToArchiveLocked(ids)
	})
}

// PromoteToArchiveLocked is the lock-free core, exposed for the compactor's
// phase 3, which already holds the workspace lock and must not re-enter it
// (the same reason archive.Store exposes AppendArchiveLocked).
func (s *Store) PromoteToArchiveLocked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.promoteToArchiveLocked(ids)
}

func (s *Store) promoteToArchiveLocked(ids []string) error {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	hotRows, err := readRows(s.fs, HotFileName)
	if err != nil {
		return err
	}
	archiveRows, err := readRows(s.fs, ArchiveFileName)
	if err != nil {
		return err
	}
	var remainHot []model.EmbeddingRow
	for _, r := range hotRows {
		if idSet[r.ID] {
			r.Source = model.SourceArchive
			archiveRows = upsertRow(archiveRows, r)
			continue
		}
		remainHot = append(remainHot, r)
	}
	if err := writeRows(s.fs, HotFileName, remainHot); err != nil {
		return err
	}
	return writeRows(s.fs, ArchiveFileName, archiveRows)
}

// CombinedView merges the hot and archive files by id, archive overwriting
// hot (spec.md §4.5: "combined view merges by id with archive overwriting
// hot").
func (s *Store) CombinedView() (map[string]model.EmbeddingRow, error) {
	hotRows, err := readRows(s.fs, HotFileName)
	if err != nil {
		return nil, err
	}
	archiveRows, err := readRows(s.fs, ArchiveFileName)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]model.EmbeddingRow, len(hotRows)+len(archiveRows))
	for _, r := range hotRows {
		merged[r.ID] = r
	}
	for _, r := range archiveRows {
		merged[r.ID] = r
	}
	return merged, nil
}

// IsStale compares a stored row against a live turn's identity fields
// (spec.md §4.5: "Staleness detection compares text_hash, source, dim,
// model between the view and the live turn").
func IsStale(row model.EmbeddingRow, turn model.Turn, source model.Source, dim int, modelName string) bool {
	if row.Source != source || row.Dim != dim || row.Model != modelName {
		return true
	}
	return row.TextHash != embedding.TextHash(turn.Text)
}

// RebuildStale scans turns against the combined view and re-embeds any row
// that is missing or stale, returning how many rows were rebuilt.
func (s *Store) RebuildStale(ctx context.Context, turns []model.Turn, source model.Source) (int, error) {
	view, err := s.CombinedView()
	if err != nil {
		return 0, err
	}
	rebuilt := 0
	for _, turn := range turns {
		row, ok := view[turn.ID]
		if ok && !IsStale(row, turn, source, s.dim, s.model) {
			continue
		}
		if _, err := s.UpsertTurn(ctx, turn, source); err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("embedview: failed to rebuild stale row %s: %v", turn.ID, err)
			continue
		}
		rebuilt++
	}
	return rebuilt, nil
}

// PruneMissing removes rows from the hot or archive file whose id is not
// present in liveIDs, dropping embeddings left behind by a deleted or
// migrated turn.
func (s *Store) PruneMissing(source model.Source, liveIDs map[string]bool) (int, error) {
	name := fileFor(source)
	removed := 0
	err := s.fs.WithLock(func() error {
		rows, err := readRows(s.fs, name)
		if err != nil {
			return err
		}
		var kept []model.EmbeddingRow
		for _, r := range rows {
			if liveIDs[r.ID] {
				kept = append(kept, r)
				continue
			}
			removed++
		}
		if removed == 0 {
			return nil
		}
		return writeRows(s.fs, name, kept)
	})
	return removed, err
}

// CompactIfNeeded dedups source's view file by id (last write wins) when its
// size exceeds maxBytes or its duplicate ratio exceeds dupRatioThreshold
// (spec.md §4.5: "Optional compaction of the view is triggered by size or
// duplicate-ratio thresholds"). Returns whether a rewrite happened.
func (s *Store) CompactIfNeeded(source model.Source, maxBytes int64, dupRatioThreshold float64) (bool, error) {
	name := fileFor(source)
	compacted := false
	err := s.fs.WithLock(func() error {
		raw, err := s.fs.ReadText(name)
		if err != nil {
			return err
		}
		rows, err := readRows(s.fs, name)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		deduped := dedupeByID(rows)
		dupRatio := 1 - float64(len(deduped))/float64(len(rows))
		oversized := maxBytes > 0 && int64(len(raw)) > maxBytes
		tooDup := dupRatioThreshold > 0 && dupRatio > dupRatioThreshold

		if !oversized && !tooDup {
			return nil
		}
		compacted = true
		logging.Get(logging.CategoryEmbedding).Info("embedview: compacting %s (oversized=%v dupRatio=%.3f)", name, oversized, dupRatio)
		return writeRows(s.fs, name, deduped)
	})
	return compacted, err
}

// dedupeByID keeps only the last occurrence of each id, preserving that
// occurrence's position order.
func dedupeByID(rows []model.EmbeddingRow) []model.EmbeddingRow {
	lastIdx := make(map[string]int, len(rows))
	for i, r := range rows {
		lastIdx[r.ID] = i
	}
	var out []model.EmbeddingRow
	seen := make(map[string]bool, len(rows))
	for i, r := range rows {
		if lastIdx[r.ID] != i {
			continue
		}
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}
