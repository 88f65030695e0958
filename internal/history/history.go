// Package history implements the hot history log (spec.md §4.3):
// NDJSON append with id/ts/ref normalization, migration of bad lines into
// quarantine, and id-targeted in-place updates.
package history

import (
	"bufio"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"contextfs/internal/cerrors"
	"contextfs/internal/fsstore"
	"contextfs/internal/ids"
	"contextfs/internal/logging"
	"contextfs/internal/model"
	"contextfs/internal/refs"
)

const (
	FileName    = "history.ndjson"
	BadFileName = "history.bad.ndjson"
)

// epoch anchors the stable ts fallback: missing/invalid timestamps become
// epoch + line_index milliseconds, so ordering within a single parse is
// still deterministic (spec.md §4.3).
var epoch = time.Unix(0, 0).UTC()

// rawTurn is the loose on-disk shape; every field is optional except text,
// which normalization trims (and tolerates missing, treating it as "").
type rawTurn struct {
	ID        string   `json:"id"`
	Ts        string   `json:"ts"`
	SessionID string   `json:"session_id"`
	Role      string   `json:"role"`
	Type      string   `json:"type"`
	Refs      []string `json:"refs"`
	Tags      []string `json:"tags"`
	Text      string   `json:"text"`
}

// Indexer is the best-effort derived-index hook Append upserts into after
// releasing the lock (spec.md §4.3). A nil Indexer is a valid no-op.
type Indexer interface {
	UpsertTurn(turn model.Turn) error
}

// Store manages history.ndjson under a workspace's fsstore.Store.
type Store struct {
	fs      *fsstore.Store
	indexer Indexer
}

// New returns a history Store. SetIndexer may be called afterward to wire
// opportunistic derived-index upserts.
func New(fs *fsstore.Store) *Store {
	return &Store{fs: fs}
}

// SetIndexer installs the derived-index hook used by Append.
func (s *Store) SetIndexer(idx Indexer) { s.indexer = idx }

// MigrationReport summarizes what ReadHistory's normalization pass found.
type MigrationReport struct {
	Rewritten       bool
	BadLinesThisRun int
	TotalBadHashes  int
}

// ReadHistory parses history.ndjson line by line, normalizing every
// successfully parsed line (role folding, ts fallback, ref inference, id
// inference/disambiguation). When migrate is true and normalization found
// parse failures or id collisions, it performs the one-shot rewrite
// described in spec.md §4.3: quarantine bad raw lines, rewrite the hot log
// with only the normalized entries, and report what changed so the caller
// can advance state.badLineCount / lastMigrationAt.
func (s *Store) ReadHistory(migrate bool) ([]model.Turn, MigrationReport, error) {
	raw, err := s.fs.ReadText(FileName)
	if err != nil {
		return nil, MigrationReport{}, err
	}
	if raw == "" {
		return nil, MigrationReport{}, nil
	}

	turns, badLines, collided := parseAndNormalize(raw)

	report := MigrationReport{}
	if migrate && (len(badLines) > 0 || collided) {
		err := s.fs.WithLock(func() error {
			newCount, totalCount, err := quarantine(s.fs, badLines)
			if err != nil {
				return err
			}
			if err := s.fs.WriteTextAtomic(FileName, Encode(turns)); err != nil {
				return err
			}
			report.Rewritten = true
			report.BadLinesThisRun = newCount
			report.TotalBadHashes = totalCount
			return nil
		})
		if err != nil {
			return nil, MigrationReport{}, err
		}
	}

	return turns, report, nil
}

// parseAndNormalize is the pure core of the migration logic: given raw
// NDJSON text, return the normalized turns, the raw lines that failed to
// parse, and whether any id collision required disambiguation.
func parseAndNormalize(raw string) ([]model.Turn, []string, bool) {
	var turns []model.Turn
	var badLines []string
	usedIDs := make(map[string]bool)
	collided := false

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineIdx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			lineIdx++
			continue
		}
		var rt rawTurn
		if err := json.Unmarshal([]byte(line), &rt); err != nil {
			badLines = append(badLines, line)
			lineIdx++
			continue
		}

		turn := normalize(rt, lineIdx)
		if uniqueID, wasCollision := dedupeID(turn.ID, usedIDs); wasCollision {
			turn.ID = uniqueID
			collided = true
		}
		usedIDs[turn.ID] = true
		turns = append(turns, turn)
		lineIdx++
	}
	return turns, badLines, collided
}

func normalize(rt rawTurn, lineIdx int) model.Turn {
	role := model.NormalizeRole(rt.Role)
	text := strings.TrimRight(rt.Text, " \t")
	ts := normalizeTs(rt.Ts, lineIdx)

	turnType := model.TurnType(rt.Type)
	if turnType == "" {
		turnType = model.InferType(role)
	}

	turnRefs := rt.Refs
	if turnRefs == nil {
		turnRefs = refs.Infer(text)
	}

	id := rt.ID
	if id == "" {
		id = ids.TurnID(ts, string(role), text)
	}

	return model.Turn{
		ID:        id,
		Ts:        ts,
		SessionID: rt.SessionID,
		Role:      role,
		Type:      turnType,
		Refs:      turnRefs,
		Tags:      rt.Tags,
		Text:      text,
	}
}

func normalizeTs(raw string, lineIdx int) string {
	if raw != "" {
		if _, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return raw
		}
		if _, err := time.Parse(time.RFC3339, raw); err == nil {
			return raw
		}
	}
	// Fixed-width milliseconds keep fallback ts strings in line order.
	return epoch.Add(time.Duration(lineIdx) * time.Millisecond).Format("2006-01-02T15:04:05.000Z07:00")
}

// dedupeID returns a unique id for the hot log: base, else base-1, base-2,
// ... (spec.md §3 "within the hot log, ids are unique").
func dedupeID(base string, used map[string]bool) (string, bool) {
	if !used[base] {
		return base, false
	}
	for i := 1; ; i++ {
		candidate := base + "-" + itoa(i)
		if !used[candidate] {
			return candidate, true
		}
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

// Encode renders turns back to NDJSON bytes, one compact JSON object per
// line, in the order given.
func Encode(turns []model.Turn) []byte {
	var b strings.Builder
	for _, t := range turns {
		line, err := json.Marshal(t)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// quarantine appends any not-yet-seen bad raw lines (keyed by content hash)
// to history.bad.ndjson and returns how many were new this run plus the
// total distinct hashes now on file, so the caller can compute
// badLineCount = max(old, unique_bad_hashes) per spec.md §4.3.
func quarantine(fs *fsstore.Store, badLines []string) (newCount int, totalCount int, err error) {
	existingRaw, err := fs.ReadText(BadFileName)
	if err != nil {
		return 0, 0, err
	}
	existingHashes := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(existingRaw))
	for scanner.Scan() {
		var e model.BadLineEntry
		if json.Unmarshal(scanner.Bytes(), &e) == nil && e.Hash != "" {
			existingHashes[e.Hash] = true
		}
	}

	var toAppend strings.Builder
	now := time.Now().UTC().Format(time.RFC3339Nano)
	seenThisRun := make(map[string]bool)
	for _, line := range badLines {
		hash := ids.ShortHash(line)
		if existingHashes[hash] || seenThisRun[hash] {
			continue // benign: hash collision or duplicate raw line, drop silently
		}
		seenThisRun[hash] = true
		entry := model.BadLineEntry{Hash: hash, Ts: now, Line: line}
		data, merr := json.Marshal(entry)
		if merr != nil {
			continue
		}
		toAppend.Write(data)
		toAppend.WriteByte('\n')
		newCount++
	}

	if toAppend.Len() > 0 {
		if err := fs.Append(BadFileName, []byte(toAppend.String())); err != nil {
			return 0, 0, err
		}
		logging.Get(logging.CategoryHistory).Warn("quarantined %d bad line(s)", newCount)
	}

	return newCount, len(existingHashes) + newCount, nil
}

// Append derives a unique id for entry (if needed against the current hot
// log), appends one NDJSON line under the workspace lock, then — outside
// the lock — best-effort upserts the turn into the derived index.
func (s *Store) Append(entry model.Turn) (model.Turn, error) {
	var appended model.Turn
	err := s.fs.WithLock(func() error {
		raw, err := s.fs.ReadText(FileName)
		if err != nil {
			return err
		}
		used := usedIDsFromRaw(raw)

		if entry.Ts == "" {
			entry.Ts = time.Now().UTC().Format(time.RFC3339Nano)
		}
		if entry.Role == "" {
			entry.Role = model.RoleUnknown
		}
		if entry.Type == "" {
			entry.Type = model.InferType(entry.Role)
		}
		if entry.Refs == nil {
			entry.Refs = refs.Infer(entry.Text)
		}
		if entry.ID == "" {
			entry.ID = ids.TurnID(entry.Ts, string(entry.Role), entry.Text)
		}
		entry.ID, _ = dedupeID(entry.ID, used)

		line, merr := json.Marshal(entry)
		if merr != nil {
			return cerrors.Internal(merr, "history: marshal turn")
		}
		line = append(line, '\n')
		if err := s.fs.Append(FileName, line); err != nil {
			return err
		}
		appended = entry
		return nil
	})
	if err != nil {
		return model.Turn{}, err
	}

	if s.indexer != nil {
		if err := s.indexer.UpsertTurn(appended); err != nil {
			logging.Get(logging.CategoryHistory).Warn("best-effort index upsert failed for %s: %v", appended.ID, err)
		}
	}
	return appended, nil
}

func usedIDsFromRaw(raw string) map[string]bool {
	used := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		var rt rawTurn
		if json.Unmarshal(scanner.Bytes(), &rt) == nil && rt.ID != "" {
			used[rt.ID] = true
		}
	}
	return used
}

// UpdateByID rewrites the whole hot log under the lock, applying patch to
// the matching entry in place. Missing ids return a NotFound CommandError
// (spec.md §4.3: "rejects missing ids silently"). The entry's original id
// and ts are preserved unless patch sets new ones explicitly.
func (s *Store) UpdateByID(id string, patch func(*model.Turn)) (model.Turn, error) {
	var updated model.Turn
	err := s.fs.WithLock(func() error {
		raw, err := s.fs.ReadText(FileName)
		if err != nil {
			return err
		}
		turns, _, _ := parseAndNormalize(raw)

		idx := -1
		for i, t := range turns {
			if t.ID == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			return cerrors.NotFound("history: turn %s not found", id)
		}

		originalID := turns[idx].ID
		originalTs := turns[idx].Ts
		patch(&turns[idx])
		if turns[idx].ID == "" {
			turns[idx].ID = originalID
		}
		if turns[idx].Ts == "" {
			turns[idx].Ts = originalTs
		}
		updated = turns[idx]

		return s.fs.WriteTextAtomic(FileName, Encode(turns))
	})
	if err != nil {
		return model.Turn{}, err
	}
	return updated, nil
}

// Write overwrites the entire hot log atomically under the lock. Used by
// maintenance commands (gc/reindex); the compactor writes the hot log
// itself while already holding the lock, using Encode directly.
func (s *Store) Write(entries []model.Turn) error {
	return s.fs.WithLock(func() error {
		return s.fs.WriteTextAtomic(FileName, Encode(entries))
	})
}

// SortByTs returns a copy of turns sorted by ts ascending, used when a
// migration needs deterministic ordering (ts collisions break ties by
// original index, which sort.SliceStable preserves).
func SortByTs(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out
}
