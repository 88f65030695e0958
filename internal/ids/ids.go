// Package ids generates ContextFS's content-hash based identifiers: turn
// ids (H-...), pin ids (P-...), and trace ids (T-...), plus the short hash
// used to key bad-line quarantine and embedding staleness checks.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
)

// shortHashLen is how many hex characters of the sha256 digest are kept.
// Short enough to stay cheap in file names and JSON, long enough that
// collisions within one workspace are not a practical concern.
const shortHashLen = 12

// ShortHash returns the first shortHashLen hex characters of sha256(s).
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:shortHashLen]
}

// TurnID derives a hot-log turn id from its ts|role|text per spec.md §3.
func TurnID(ts, role, text string) string {
	return "H-" + ShortHash(ts+"|"+role+"|"+text)
}

// PinID derives a pin id from its normalized (case-folded, whitespace-
// collapsed) text per spec.md §3.
func PinID(normalizedText string) string {
	return "P-" + ShortHash(normalizedText)
}

// TraceID derives a trace id from a seed string (command+query+ts).
func TraceID(seed string) string {
	return "T-" + ShortHash(seed)
}
