// Package summary normalizes and persists the rolling-summary markdown an
// external summarizer produces during compaction (spec.md §3 "Rolling
// summary", §4.7 phase 2).
package summary

import (
	"bufio"
	"strings"

	"contextfs/internal/fsstore"
)

const (
	// FileName is exported so the compactor's phase 3 (which already holds
	// the workspace lock) can write summary.md directly instead of
	// re-entering Replace's locking.
	FileName = "summary.md"
	fileName = FileName
	header   = "## Rolling Summary"
)

// Store loads and persists summary.md under a workspace's fsstore.Store.
type Store struct {
	fs       *fsstore.Store
	maxChars int
}

// New returns a summary Store capped at maxChars characters after
// normalization.
func New(fs *fsstore.Store, maxChars int) *Store {
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &Store{fs: fs, maxChars: maxChars}
}

// Load reads the current normalized summary text.
func (s *Store) Load() (string, error) {
	return s.fs.ReadText(fileName)
}

// Replace normalizes raw (the summarizer's reply, folded against the
// existing summary upstream in the compactor), persists it atomically, and
// returns the stored text.
func (s *Store) Replace(raw string) (string, error) {
	normalized := Normalize(raw, s.maxChars)
	if err := s.fs.WriteTextAtomic(fileName, []byte(normalized)); err != nil {
		return "", err
	}
	return normalized, nil
}

// Normalize strips code fences, dedups bullets by case-folded form, caps
// the body to maxChars, and ensures the fixed header is present
// (spec.md §4.7: "strip code fences, dedup bullets, cap length, ensure
// header").
func Normalize(raw string, maxChars int) string {
	body := stripCodeFences(raw)
	bullets := dedupBullets(extractBullets(body))

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, line := range bullets {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	out := b.String()

	if maxChars > 0 && len(out) > maxChars {
		out = truncateKeepingWholeBullets(out, maxChars)
	}
	return out
}

func stripCodeFences(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// extractBullets turns every non-empty, non-heading line into a bullet,
// stripping a leading "- ", "* " or "1. " marker when present, so the
// summary body is bullet-only (spec.md §3 "Rolling summary").
func extractBullets(body string) []string {
	var bullets []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = trimNumberedPrefix(line)
		line = strings.TrimSpace(line)
		if line != "" {
			bullets = append(bullets, line)
		}
	}
	return bullets
}

func trimNumberedPrefix(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && line[i] == '.' && line[i+1] == ' ' {
		return line[i+2:]
	}
	return line
}

func dedupBullets(bullets []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, bl := range bullets {
		key := strings.ToLower(strings.Join(strings.Fields(bl), " "))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, bl)
	}
	return out
}

func truncateKeepingWholeBullets(out string, maxChars int) string {
	lines := strings.Split(out, "\n")
	var b strings.Builder
	for _, l := range lines {
		if b.Len()+len(l)+1 > maxChars {
			break
		}
		b.WriteString(l)
		b.WriteString("\n")
	}
	result := b.String()
	if len(result) == 0 {
		return out[:maxChars]
	}
	return result
}
