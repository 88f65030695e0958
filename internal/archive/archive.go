// Package archive implements the append-only archive log and its derived
// index (spec.md §4.4): turns displaced by compaction are appended with id
// preservation (never re-uniquified), and a compact index file is kept in
// sync for retrieval without rereading full archive payloads.
package archive

import (
	"bufio"
	"encoding/json"
	"strings"

	"contextfs/internal/fsstore"
	"contextfs/internal/model"
)

const (
	FileName      = "history.archive.ndjson"
	IndexFileName = "history.archive.index.ndjson"

	// summaryMaxChars bounds the one-line summary an index row carries.
	summaryMaxChars = 160
)

// Store manages the archive log and its derived index under a workspace's
// fsstore.Store.
type Store struct {
	fs *fsstore.Store
}

// New returns an archive Store.
func New(fs *fsstore.Store) *Store {
	return &Store{fs: fs}
}

// AppendArchive appends entries to the archive log and rebuilds the index,
// both under a single lock (spec.md §4.4: "writes both files under a
// single lock"). Ids are preserved exactly as given; callers (the
// compactor) are responsible for not re-uniquifying them.
func (s *Store) AppendArchive(entries []model.Turn, archivedAt string) error {
	if len(entries) == 0 {
		return nil
	}
	return s.fs.WithLock(func() error {
		return s.appendArchiveLocked(entries, archivedAt)
	})
}

// AppendArchiveLocked is the lock-free core exposed for the compactor's
// phase 3, which already holds the workspace lock across archive, summary,
// and hot-log writes and must not re-enter it.
func (s *Store) AppendArchiveLocked(entries []model.Turn, archivedAt string) error {
	if len(entries) == 0 {
		return nil
	}
	return s.appendArchiveLocked(entries, archivedAt)
}

func (s *Store) appendArchiveLocked(entries []model.Turn, archivedAt string) error {
	prev, err := s.readIndex()
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, t := range entries {
		line, err := json.Marshal(t)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if err := s.fs.Append(FileName, []byte(b.String())); err != nil {
		return err
	}

	raw, err := s.fs.ReadText(FileName)
	if err != nil {
		return err
	}
	turns := parseArchiveRaw(raw)
	indexData := buildIndex(turns, prev, archivedAt)
	return s.fs.WriteTextAtomic(IndexFileName, indexData)
}

// RebuildIndex scans the archive log and atomically replaces the index
// file. Pure function of the archive log and its existing index (spec.md
// §4.4, §8): running it twice with no intervening archive writes produces
// byte-identical index content, because every row's archivedAt is carried
// over from the existing index by position rather than re-stamped with the
// current wall-clock time.
func (s *Store) RebuildIndex() error {
	return s.fs.WithLock(func() error {
		prev, err := s.readIndex()
		if err != nil {
			return err
		}
		raw, err := s.fs.ReadText(FileName)
		if err != nil {
			return err
		}
		turns := parseArchiveRaw(raw)
		indexData := buildIndex(turns, prev, "")
		return s.fs.WriteTextAtomic(IndexFileName, indexData)
	})
}

// readIndex returns the current index rows (empty if the index doesn't
// exist yet), for buildIndex to carry archivedAt forward by position.
func (s *Store) readIndex() ([]model.ArchiveIndexEntry, error) {
	raw, err := s.fs.ReadText(IndexFileName)
	if err != nil {
		return nil, err
	}
	return parseIndexRaw(raw), nil
}

// ReadArchive returns every turn in the archive log, in file order
// (oldest first), with ids exactly as stored (no dedup, no disambiguation:
// spec.md §4.4 "id preservation").
func (s *Store) ReadArchive() ([]model.Turn, error) {
	raw, err := s.fs.ReadText(FileName)
	if err != nil {
		return nil, err
	}
	return parseArchiveRaw(raw), nil
}

// ReadIndex returns the current archive index rows.
func (s *Store) ReadIndex() ([]model.ArchiveIndexEntry, error) {
	raw, err := s.fs.ReadText(IndexFileName)
	if err != nil {
		return nil, err
	}
	return parseIndexRaw(raw), nil
}

func parseIndexRaw(raw string) []model.ArchiveIndexEntry {
	var out []model.ArchiveIndexEntry
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e model.ArchiveIndexEntry
		if json.Unmarshal([]byte(line), &e) == nil {
			out = append(out, e)
		}
	}
	return out
}

// FindArchiveByID scans the archive tail-first and returns the newest
// matching line ("last wins" per spec.md §4.4, §8 "duplicate-id archive
// consistency").
func (s *Store) FindArchiveByID(id string) (model.Turn, bool, error) {
	turns, err := s.ReadArchive()
	if err != nil {
		return model.Turn{}, false, err
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].ID == id {
			return turns[i], true, nil
		}
	}
	return model.Turn{}, false, nil
}

func parseArchiveRaw(raw string) []model.Turn {
	var turns []model.Turn
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var t model.Turn
		if json.Unmarshal([]byte(line), &t) == nil {
			turns = append(turns, t)
		}
	}
	return turns
}

// buildIndex derives one index row per archive line, in file order. The id
// of each row equals the id of its underlying archive payload exactly
// (spec.md §4.4 invariant: "no re-uniquification"), so duplicate archive
// ids yield duplicate index rows — retrieval's tail-first "last wins"
// policy is what resolves them, not the index.
//
// archivedAt is assigned per row, not once for the whole file, so repeated
// rebuilds stay pure (spec.md §8): a row at position i that already has a
// corresponding row in prev (same id, same position) keeps prev's
// archivedAt verbatim; only rows genuinely new to the archive (a position
// beyond len(prev), or an id mismatch caused by a fresh append) take
// newArchivedAt. When newArchivedAt is itself empty (RebuildIndex, which
// never has new content to stamp) a never-before-seen row falls back to
// the turn's own ts — content-derived, not wall-clock, so the result stays
// a pure function of the archive log and its prior index.
func buildIndex(turns []model.Turn, prev []model.ArchiveIndexEntry, newArchivedAt string) []byte {
	var b strings.Builder
	for i, t := range turns {
		at := newArchivedAt
		if i < len(prev) && prev[i].ID == t.ID {
			at = prev[i].ArchivedAt
		} else if at == "" {
			at = t.Ts
		}
		entry := model.ArchiveIndexEntry{
			ID:         t.ID,
			Ts:         t.Ts,
			Type:       t.Type,
			Refs:       t.Refs,
			Summary:    oneLineSummary(t.Text),
			ArchivedAt: at,
			Source:     model.SourceArchive,
		}
		line, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func oneLineSummary(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if len(s) > summaryMaxChars {
		return s[:summaryMaxChars]
	}
	return s
}
