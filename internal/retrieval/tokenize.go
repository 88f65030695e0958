package retrieval

import "unicode"

// tokenize splits text on non-alnum boundaries, lowercases Latin/digit
// runs, and for CJK segments emits the whole segment plus its 2-grams and
// 3-grams, since CJK text carries no whitespace word boundaries
// (spec.md §4.9 "tokenize(text)").
func tokenize(text string) []string {
	var tokens []string
	var seg []rune

	flush := func() {
		if len(seg) == 0 {
			return
		}
		if containsCJK(seg) {
			tokens = append(tokens, string(seg))
			for i := range seg {
				if i+2 <= len(seg) {
					tokens = append(tokens, string(seg[i:i+2]))
				}
				if i+3 <= len(seg) {
					tokens = append(tokens, string(seg[i:i+3]))
				}
			}
		} else {
			tokens = append(tokens, string(seg))
		}
		seg = seg[:0]
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			seg = append(seg, unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// isCJK reports whether r falls in a CJK Unified Ideographs, Hiragana,
// Katakana, or Hangul block.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	}
	return false
}

func containsCJK(runes []rune) bool {
	for _, r := range runes {
		if isCJK(r) {
			return true
		}
	}
	return false
}

// tokenSet builds a lowercased, deduped lookup set from tokenize's output.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(text) {
		set[t] = true
	}
	return set
}
