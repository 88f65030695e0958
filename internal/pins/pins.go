// Package pins implements the pin store (spec.md §4, "Pin store" in §2):
// one-line constraints parsed from and serialized back to pins.md, deduped
// by normalized form with a prefix near-duplicate rule, and capped at a
// configured count.
package pins

import (
	"bufio"
	"strings"

	"contextfs/internal/fsstore"
	"contextfs/internal/ids"
	"contextfs/internal/model"
)

const fileName = "pins.md"

// prefixOverlapLen is how many leading characters of two normalized pins
// must match for them to be considered near-duplicates (spec.md §3 "Pin").
const prefixOverlapLen = 24

// Store loads and persists pins.md under a workspace's fsstore.Store.
type Store struct {
	fs       *fsstore.Store
	maxItems int
}

// New returns a pin Store capped at maxItems entries.
func New(fs *fsstore.Store, maxItems int) *Store {
	if maxItems <= 0 {
		maxItems = 40
	}
	return &Store{fs: fs, maxItems: maxItems}
}

// normalize case-folds, collapses whitespace, and strips every leading and
// trailing quote character, producing the form pins are deduped and hashed on.
func normalize(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	joined := strings.Join(fields, " ")
	joined = strings.Trim(joined, `"'`)
	return joined
}

// Load parses pins.md into a deduped, capped list of Pins (the oldest are
// dropped beyond maxItems). Each non-empty line (after stripping an
// optional leading "- ") is one pin; blank lines are ignored.
func (s *Store) Load() ([]model.Pin, error) {
	raw, err := s.fs.ReadText(fileName)
	if err != nil {
		return nil, err
	}
	pins := parseLines(raw)
	if len(pins) > s.maxItems {
		pins = pins[len(pins)-s.maxItems:]
	}
	return pins, nil
}

func parseLines(raw string) []model.Pin {
	var pins []model.Pin
	seenNorm := make(map[string]bool)
	var normalized []string

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n := normalize(line)
		if n == "" || seenNorm[n] {
			continue
		}
		if isNearDuplicate(n, normalized) {
			continue
		}
		seenNorm[n] = true
		normalized = append(normalized, n)
		pins = append(pins, model.Pin{ID: ids.PinID(n), Text: line})
	}
	return pins
}

// isNearDuplicate reports whether n shares a prefixOverlapLen-character
// prefix with any already-kept normalized pin, in either direction (spec.md
// §3: "a prefix near-duplicate rule (24-char prefix overlap collapses both
// directions)").
func isNearDuplicate(n string, kept []string) bool {
	for _, k := range kept {
		if sharesPrefix(n, k) || sharesPrefix(k, n) {
			return true
		}
	}
	return false
}

func sharesPrefix(a, b string) bool {
	if len(a) < prefixOverlapLen {
		return false
	}
	prefix := a[:prefixOverlapLen]
	return strings.HasPrefix(b, prefix)
}

// Add appends a new pin (after dedup/near-dup checks), drops the oldest
// pin when the cap would be exceeded, and persists pins.md atomically.
// Caller is responsible for serializing this with fsstore.WithLock.
func (s *Store) Add(text string) (model.Pin, bool, error) {
	text = strings.TrimSpace(text)
	current, err := s.Load()
	if err != nil {
		return model.Pin{}, false, err
	}

	n := normalize(text)
	var normalized []string
	for _, p := range current {
		normalized = append(normalized, normalize(p.Text))
	}
	if n == "" || contains(normalized, n) || isNearDuplicate(n, normalized) {
		return model.Pin{}, false, nil
	}

	newPin := model.Pin{ID: ids.PinID(n), Text: text}
	current = append(current, newPin)
	if len(current) > s.maxItems {
		current = current[len(current)-s.maxItems:]
	}

	if err := s.write(current); err != nil {
		return model.Pin{}, false, err
	}
	return newPin, true, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Serialize renders pins as the markdown body pins.md persists: one
// "- text" bullet per line.
func Serialize(pins []model.Pin) string {
	var b strings.Builder
	for _, p := range pins {
		b.WriteString("- ")
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Store) write(pins []model.Pin) error {
	return s.fs.WriteTextAtomic(fileName, []byte(Serialize(pins)))
}
