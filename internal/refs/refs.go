// Package refs infers semantic references from turn text (spec.md §4.3):
// URLs, file paths, function calls, and issue numbers, each tagged with its
// kind and deduped/capped.
package refs

import (
	"regexp"
)

const maxRefs = 10

var (
	urlRe     = regexp.MustCompile(`https?://[^\s)\]},"']+`)
	unixPathRe = regexp.MustCompile(`(?:^|[\s(])(\.{0,2}/?(?:[\w.-]+/)+[\w.-]+\.(?:go|py|js|ts|tsx|jsx|rs|java|c|h|cpp|hpp|rb|php|md|yaml|yml|json|toml|sh))`)
	winPathRe  = regexp.MustCompile(`(?:^|[\s(])([A-Za-z]:\\(?:[\w.-]+\\)+[\w.-]+\.(?:go|py|js|ts|tsx|jsx|rs|java|c|h|cpp|hpp|rb|php|md|yaml|yml|json|toml|sh))`)
	fnCallRe   = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\(`)
	issueRe    = regexp.MustCompile(`#(\d+)\b`)
)

// Infer extracts refs from text in the order the spec lists: url, unix
// path, windows path, function-call-like, issue number. Results are deduped
// (first occurrence wins) and capped at 10.
func Infer(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(ref string) {
		if seen[ref] || len(out) >= maxRefs {
			return
		}
		seen[ref] = true
		out = append(out, ref)
	}

	for _, m := range urlRe.FindAllString(text, -1) {
		add("url:" + m)
		if len(out) >= maxRefs {
			return out
		}
	}
	for _, m := range unixPathRe.FindAllStringSubmatch(text, -1) {
		add("file:" + m[1])
		if len(out) >= maxRefs {
			return out
		}
	}
	for _, m := range winPathRe.FindAllStringSubmatch(text, -1) {
		add("file:" + m[1])
		if len(out) >= maxRefs {
			return out
		}
	}
	for _, m := range fnCallRe.FindAllStringSubmatch(text, -1) {
		add("fn:" + m[1])
		if len(out) >= maxRefs {
			return out
		}
	}
	for _, m := range issueRe.FindAllStringSubmatch(text, -1) {
		add("issue:#" + m[1])
		if len(out) >= maxRefs {
			return out
		}
	}

	return out
}
