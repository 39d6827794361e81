package chunker

import (
	"strings"
	"unicode"
)

// sentenceScanner finds sentence boundaries in plain text. It keeps a map of
// common abbreviations so that "Dr. Smith" or "e.g. this" do not end a
// sentence, and it skips decimal numbers and ellipses.
type sentenceScanner struct {
	abbreviations map[string]bool
}

func newSentenceScanner() *sentenceScanner {
	return &sentenceScanner{abbreviations: makeAbbreviationMap()}
}

// boundaries returns the rune offsets at which a new sentence starts. Each
// boundary points just past the sentence's terminal punctuation, closing
// quotes, and any following whitespace, so slicing the text at the returned
// offsets loses nothing.
func (s *sentenceScanner) boundaries(runes []rune) []int {
	var bounds []int

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}

		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		for end < len(runes) && (runes[end] == '"' || runes[end] == '\'' || runes[end] == ')' || runes[end] == ']') {
			end++
		}

		if !s.isSentenceEnd(runes, i) {
			continue
		}

		// Trailing whitespace belongs to the sentence it follows.
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}

		if end < len(runes) {
			bounds = append(bounds, end)
		}
		i = end - 1
	}

	return bounds
}

// isSentenceEnd reports whether the punctuation at pos really terminates a
// sentence.
func (s *sentenceScanner) isSentenceEnd(runes []rune, pos int) bool {
	punct := runes[pos]

	start := pos - 1
	for start >= 0 && !unicode.IsSpace(runes[start]) {
		start--
	}
	wordBefore := strings.ToLower(string(runes[start+1 : pos+1]))

	if punct == '.' && wordBefore != "" {
		trimmed := strings.TrimSuffix(wordBefore, ".")
		if s.abbreviations[trimmed] || s.abbreviations[wordBefore] {
			return false
		}
		// Multi-part abbreviations like "ph.d." or "u.s."
		if strings.Count(wordBefore, ".") > 1 {
			return false
		}
	}

	// Decimal numbers: "3.14" never splits.
	if punct == '.' && pos > 0 && pos+1 < len(runes) &&
		unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
		return false
	}

	// Ellipsis.
	if punct == '.' && pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
		return false
	}

	next := pos + 1
	for next < len(runes) && (runes[next] == '"' || runes[next] == '\'' || runes[next] == ')' || runes[next] == ']') {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next < len(runes) && unicode.IsUpper(runes[next]) {
		return true
	}
	return punct == '!' || punct == '?'
}

func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"ph.d", "m.d", "b.a", "m.a", "b.s",
		"llc", "inc", "ltd", "co", "corp",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd", "ln", "ct",
		"u.s", "u.k", "u.n", "e.u",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	m := make(map[string]bool, len(abbrevs)*2)
	for _, a := range abbrevs {
		m[a] = true
		if !strings.Contains(a, ".") {
			m[a+"."] = true
		}
	}
	return m
}
