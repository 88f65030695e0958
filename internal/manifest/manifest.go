// Package manifest regenerates the workspace's manifest.md: a generated
// markdown listing of files, mode settings, and revision (spec.md §3
// "Manifest"). It is never parsed back — only its rendered lines are fed
// to the packer as an opaque MANIFEST section.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"contextfs/internal/config"
	"contextfs/internal/fsstore"
	"contextfs/internal/model"
)

// FileName is the manifest's on-disk name under the workspace directory.
const FileName = "manifest.md"

// Store regenerates and persists manifest.md.
type Store struct {
	fs *fsstore.Store
}

// New returns a Store backed by fs.
func New(fs *fsstore.Store) *Store {
	return &Store{fs: fs}
}

// Regenerate rebuilds manifest.md from the workspace's current directory
// listing, config, and state, then writes it atomically and returns the
// rendered text.
func (s *Store) Regenerate(cfg *config.Config, st model.State) (string, error) {
	entries, err := os.ReadDir(s.fs.Dir())
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("## ContextFS Manifest\n\n")
	fmt.Fprintf(&b, "- revision: %d\n", st.Revision)
	fmt.Fprintf(&b, "- generatedAt: %s\n", time.Now().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "- currentSessionId: %s\n", st.CurrentSessionID)
	fmt.Fprintf(&b, "- mode: retrieval=%s vectorEnabled=%t autoCompact=%t\n", cfg.RetrievalMode, cfg.VectorEnabled, cfg.AutoCompact)
	fmt.Fprintf(&b, "- tokenThreshold: %d recentTurns: %d\n", cfg.TokenThreshold, cfg.RecentTurns)
	b.WriteString("\n### Files\n\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- %s\n", name)
	}

	text := b.String()
	if err := s.fs.WriteTextAtomic(FileName, []byte(text)); err != nil {
		return "", err
	}
	return text, nil
}

// Load reads the last-generated manifest.md, or "" if none exists yet.
func (s *Store) Load() (string, error) {
	if !s.fs.Exists(FileName) {
		return "", nil
	}
	return s.fs.ReadText(FileName)
}

// Lines splits raw manifest text into at most maxLines non-empty lines,
// the shape packer.Input.ManifestLines expects.
func Lines(raw string, maxLines int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if maxLines > 0 && len(out) >= maxLines {
			break
		}
	}
	return out
}
