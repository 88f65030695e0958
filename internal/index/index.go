// Package index implements the derived lexical+vector index (spec.md
// §4.6): an optional SQLite-backed store rebuildable from the hot/archive
// turns and the embedding view, with BM25-style lexical scoring and a
// vector search that is always an in-process linear cosine scan. A build
// with the sqlite-vec extension linked in registers it, but vector search
// does not query it.
package index

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/embedding"
	"contextfs/internal/logging"
	"contextfs/internal/model"
)

const textPreviewMaxChars = 240

// Store wraps the derived index's SQLite database. It is always safe to
// drop: every row is reconstructible from the hot log, archive log, and
// embedding view (spec.md §3).
type Store struct {
	db  *sql.DB
	dim int
}

// Open creates (if needed) and opens the index database at path, applying
// schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, cerrors.Internal(err, "index: open %s", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			ts TEXT,
			session_id TEXT,
			role TEXT,
			type TEXT,
			source TEXT,
			refs_json TEXT,
			summary TEXT,
			text_preview TEXT
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
			id UNINDEXED, summary, text_preview, refs
		)`,
		`CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			dim INTEGER,
			vec BLOB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return cerrors.Internal(err, "index: migrate %q", stmt)
		}
	}
	return nil
}

// RebuildInput is everything RebuildFromStorage needs to reconstruct the
// index from scratch.
type RebuildInput struct {
	Archive          []model.Turn
	Hot              []model.Turn
	EmbeddingView    map[string]model.EmbeddingRow
	Provider         string
	Model            string
	Dim              int
	EmbeddingVersion string
}

// RebuildFromStorage wipes turns/FTS, drops the vector table contents,
// repopulates turns from archive then hot (hot wins on id collision), then
// rebuilds the vector table from the embedding view, recording
// provider/model/dim/embedding_version/updated_at in meta (spec.md §4.6).
func (s *Store) RebuildFromStorage(in RebuildInput) error {
	timer := logging.StartTimer(logging.CategoryIndex, "RebuildFromStorage")
	defer timer.Stop()

	tx, err := s.db.Begin()
	if err != nil {
		return cerrors.Internal(err, "index: begin rebuild tx")
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM turns", "DELETE FROM turns_fts", "DELETE FROM vectors"} {
		if _, err := tx.Exec(stmt); err != nil {
			return cerrors.Internal(err, "index: wipe %q", stmt)
		}
	}

	insertTurn := func(t model.Turn, source model.Source) error {
		refsJSON, _ := json.Marshal(t.Refs)
		summary := oneLine(t.Text, textPreviewMaxChars/2)
		preview := oneLine(t.Text, textPreviewMaxChars)
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO turns (id, ts, session_id, role, type, source, refs_json, summary, text_preview)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Ts, t.SessionID, string(t.Role), string(t.Type), string(source), string(refsJSON), summary, preview,
		)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`DELETE FROM turns_fts WHERE id = ?`, t.ID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO turns_fts (id, summary, text_preview, refs) VALUES (?, ?, ?, ?)`,
			t.ID, summary, preview, strings.Join(t.Refs, " "),
		)
		return err
	}

	for _, t := range in.Archive {
		if err := insertTurn(t, model.SourceArchive); err != nil {
			return cerrors.Internal(err, "index: insert archive turn %s", t.ID)
		}
	}
	for _, t := range in.Hot {
		if err := insertTurn(t, model.SourceHot); err != nil {
			return cerrors.Internal(err, "index: insert hot turn %s", t.ID)
		}
	}

	for id, row := range in.EmbeddingView {
		packed := packVector(row.Vec)
		if _, err := tx.Exec(`INSERT OR REPLACE INTO vectors (id, dim, vec) VALUES (?, ?, ?)`, id, row.Dim, packed); err != nil {
			return cerrors.Internal(err, "index: insert vector %s", id)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	metaKV := map[string]string{
		"provider":          in.Provider,
		"model":             in.Model,
		"dim":               fmt.Sprintf("%d", in.Dim),
		"embedding_version": in.EmbeddingVersion,
		"updated_at":        now,
	}
	for k, v := range metaKV {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return cerrors.Internal(err, "index: set meta %s", k)
		}
	}

	if err := tx.Commit(); err != nil {
		return cerrors.Internal(err, "index: commit rebuild")
	}
	s.dim = in.Dim
	return nil
}

func oneLine(text string, maxChars int) string {
	s := strings.Join(strings.Fields(text), " ")
	if len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}

func packVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func unpackVector(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// LexicalHit is one lexical search result, ranked by the 1/(1+bm25)
// transform (spec.md §4.6: "a small negative-to-positive transformation
// so higher is better").
type LexicalHit struct {
	ID    string
	Score float64
}

// LexicalSearch runs a BM25 full-text query over summary|text_preview|refs
// and returns up to limit hits, highest transformed score first.
func (s *Store) LexicalSearch(query string, limit int) ([]LexicalHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, bm25(turns_fts) AS rank FROM turns_fts WHERE turns_fts MATCH ? ORDER BY rank LIMIT ?`,
		ftsQuery(query), limit,
	)
	if err != nil {
		return nil, cerrors.Internal(err, "index: lexical search")
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var id string
		var bm25 float64
		if err := rows.Scan(&id, &bm25); err != nil {
			continue
		}
		hits = append(hits, LexicalHit{ID: id, Score: 1 / (1 + bm25)})
	}
	return hits, rows.Err()
}

// ftsQuery quotes each token so punctuation-bearing queries don't break
// FTS5's MATCH syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// VectorHit is one vector search result.
type VectorHit struct {
	ID         string
	Similarity float64
}

// VectorSearch materializes up to linearLimit rows from the vectors table
// and computes cosine similarity against queryVec, keeping only rows at or
// above minSimilarity and returning the top topN, highest similarity first
// (spec.md §4.6: "linear fallback ... applying minSimilarity threshold and
// stable tie-breaks"). This linear scan is the only vector search path,
// including in builds where ann_cgo.go links in the sqlite-vec extension.
func (s *Store) VectorSearch(queryVec []float32, topN int, minSimilarity float64, linearLimit int) ([]VectorHit, error) {
	if linearLimit <= 0 {
		linearLimit = 5000
	}
	rows, err := s.db.Query(`SELECT id, vec FROM vectors LIMIT ?`, linearLimit)
	if err != nil {
		return nil, cerrors.Internal(err, "index: vector search")
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		vec := unpackVector(blob)
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, VectorHit{ID: id, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Internal(err, "index: vector search rows")
	}

	stableSortVectorHits(hits)
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

func stableSortVectorHits(hits []VectorHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && less(hits[j], hits[j-1]); j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

// less orders by similarity descending, then by id ascending for a stable
// tie-break.
func less(a, b VectorHit) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.ID < b.ID
}

// DoctorReport is the vector-search health contract (spec.md §4.6).
type DoctorReport struct {
	Turns            int
	FTSRows          int
	VectorRows       int
	Dim              int
	Provider         string
	Model            string
	EmbeddingVersion string
	VectorAvailable  bool
	Reason           string
}

// Doctor reports current index health and, when vector search cannot run,
// why: vector_table_missing, dimension_mismatch, version_mismatch
// (spec.md §4.6: "On any mismatch the vector search refuses to run and
// lexical remains authoritative").
func (s *Store) Doctor(expectedProvider, expectedModel, expectedVersion string, expectedDim int) (DoctorReport, error) {
	report := DoctorReport{}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&report.Turns); err != nil {
		return report, cerrors.Internal(err, "index: doctor turns count")
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns_fts`).Scan(&report.FTSRows); err != nil {
		return report, cerrors.Internal(err, "index: doctor fts count")
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vectors`).Scan(&report.VectorRows); err != nil {
		return report, cerrors.Internal(err, "index: doctor vector count")
	}

	report.Provider = s.metaGet("provider")
	report.Model = s.metaGet("model")
	report.EmbeddingVersion = s.metaGet("embedding_version")
	fmt.Sscanf(s.metaGet("dim"), "%d", &report.Dim)

	switch {
	case report.VectorRows == 0:
		report.Reason = "vector_table_missing"
	case report.Dim != expectedDim:
		report.Reason = "dimension_mismatch"
	case report.EmbeddingVersion != expectedVersion:
		report.Reason = "version_mismatch"
	case expectedProvider != "" && report.Provider != expectedProvider:
		report.Reason = "provider_mismatch"
	case expectedModel != "" && report.Model != expectedModel:
		report.Reason = "model_mismatch"
	default:
		report.VectorAvailable = true
	}
	return report, nil
}

// ANNAvailable reports whether this binary was built with the sqlite-vec
// CGO extension linked in (spec.md §4.6: "ANN (if an extension is
// available)"). VectorSearch uses the linear scan whatever this reports.
func ANNAvailable() bool { return annAvailable }

func (s *Store) metaGet(key string) string {
	var v string
	_ = s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	return v
}
