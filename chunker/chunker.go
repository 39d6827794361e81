// Package chunker splits normalized book text into bounded-size chunks for
// synthesis. Paragraph boundaries are preferred, then sentence boundaries,
// then a hard split at the limit as a last resort. Chunk texts are exact,
// contiguous substrings of the input: concatenating every chunk reproduces
// the input byte-for-byte.
package chunker

import (
	"errors"
	"strings"
	"unicode"

	"github.com/bookvoice/bookvoice/book"
	"github.com/charmbracelet/log"
)

var (
	// ErrEmptyText is returned when there is nothing to split.
	ErrEmptyText = errors.New("chunker: empty text")
	// ErrInvalidLimit is returned for a non-positive chunk size limit.
	ErrInvalidLimit = errors.New("chunker: max chunk size must be positive")
)

// Split divides text into chunks of at most maxChars runes. A chapter
// boundary always forces a chunk break, so no chunk spans two chapters.
// Identical input always yields the identical chunk sequence.
func Split(text string, maxChars int, manifest *book.Manifest) ([]book.TextChunk, error) {
	if maxChars <= 0 {
		return nil, ErrInvalidLimit
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	runes := []rune(text)
	scanner := newSentenceScanner()

	var chunks []book.TextChunk
	var carry string
	for _, reg := range regions(len(runes), manifest) {
		pieces := splitRegion(runes[reg.start:reg.end], maxChars, scanner)
		for _, p := range pieces {
			if strings.TrimSpace(p) == "" {
				// Boundary whitespace folds into the preceding chunk when it
				// has room, otherwise it rides along to the next chunk so the
				// limit holds either way.
				if n := len(chunks); n > 0 && chunks[n-1].Chars+len([]rune(p)) <= maxChars {
					last := &chunks[n-1]
					last.Text += p
					last.Chars += len([]rune(p))
					continue
				}
				carry += p
				continue
			}
			p = carry + p
			carry = ""
			if chars := len([]rune(p)); chars > maxChars {
				log.Warn("chunk exceeds limit after boundary merge, hard splitting",
					"chars", chars, "limit", maxChars)
				r := []rune(p)
				for len(r) > maxChars {
					chunks = append(chunks, book.TextChunk{
						Index:   len(chunks),
						Text:    string(r[:maxChars]),
						Chars:   maxChars,
						Chapter: reg.chapter,
					})
					r = r[maxChars:]
				}
				p = string(r)
			}
			chunks = append(chunks, book.TextChunk{
				Index:   len(chunks),
				Text:    p,
				Chars:   len([]rune(p)),
				Chapter: reg.chapter,
			})
		}
	}
	if carry != "" && len(chunks) > 0 {
		// Trailing whitespace has no following chunk; the final chunk takes
		// it even when that overflows the limit.
		last := &chunks[len(chunks)-1]
		last.Text += carry
		last.Chars += len([]rune(carry))
		if last.Chars > maxChars {
			log.Warn("trailing whitespace overflows final chunk",
				"chars", last.Chars, "limit", maxChars)
		}
	}

	return chunks, nil
}

// region is a maximal span of text belonging to a single chapter (or to no
// chapter, for front matter and gaps).
type region struct {
	start, end int
	chapter    int
}

func regions(length int, manifest *book.Manifest) []region {
	if manifest == nil || len(manifest.Chapters) == 0 {
		return []region{{start: 0, end: length, chapter: -1}}
	}

	var regs []region
	pos := 0
	for i, ch := range manifest.Chapters {
		start, end := ch.Start, ch.End
		if start > length {
			start = length
		}
		if end > length {
			end = length
		}
		if start > pos {
			regs = append(regs, region{start: pos, end: start, chapter: -1})
		}
		if end > start {
			regs = append(regs, region{start: start, end: end, chapter: i})
		}
		if end > pos {
			pos = end
		}
	}
	if pos < length {
		regs = append(regs, region{start: pos, end: length, chapter: -1})
	}
	return regs
}

// splitRegion splits one chapter's runes into chunk texts. Whitespace-only
// pieces pass through untouched; Split decides which neighbor absorbs them.
func splitRegion(runes []rune, maxChars int, scanner *sentenceScanner) []string {
	var out []string
	emit := func(piece []rune) {
		if len(piece) > 0 {
			out = append(out, string(piece))
		}
	}

	var current []rune
	flush := func() {
		emit(current)
		current = nil
	}

	for _, para := range paragraphs(runes) {
		switch {
		case len(current)+len(para) <= maxChars:
			current = append(current, para...)
		case len(para) <= maxChars:
			flush()
			current = append(current, para...)
		default:
			// Paragraph alone exceeds the limit: fall back to sentences.
			for _, sent := range sentences(para, scanner) {
				if len(current)+len(sent) <= maxChars {
					current = append(current, sent...)
					continue
				}
				flush()
				if len(sent) <= maxChars {
					current = append(current, sent...)
					continue
				}
				// A single sentence over the limit is hard-split. Lossy for
				// prosody, but keeps every chunk within bounds.
				log.Warn("sentence exceeds chunk limit, hard splitting",
					"chars", len(sent), "limit", maxChars)
				for len(sent) > maxChars {
					emit(sent[:maxChars])
					sent = sent[maxChars:]
				}
				current = append(current, sent...)
			}
		}
	}
	flush()
	return out
}

// paragraphs splits runes after each blank-line separator, keeping the
// separator attached to the preceding paragraph.
func paragraphs(runes []rune) [][]rune {
	var paras [][]rune
	start := 0
	i := 0
	for i < len(runes) {
		if runes[i] != '\n' {
			i++
			continue
		}
		j := i + 1
		for j < len(runes) && (runes[j] == '\n' || runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\r') {
			j++
		}
		// A paragraph break needs at least two newlines.
		if strings.Count(string(runes[i:j]), "\n") >= 2 && j < len(runes) {
			paras = append(paras, runes[start:j])
			start = j
		}
		i = j
	}
	if start < len(runes) {
		paras = append(paras, runes[start:])
	}
	return paras
}

// sentences splits a paragraph at sentence boundaries, separator whitespace
// attached to the preceding sentence.
func sentences(runes []rune, scanner *sentenceScanner) [][]rune {
	bounds := scanner.boundaries(runes)
	if len(bounds) == 0 {
		return [][]rune{runes}
	}

	var sents [][]rune
	start := 0
	for _, b := range bounds {
		if b <= start || b > len(runes) {
			continue
		}
		sents = append(sents, runes[start:b])
		start = b
	}
	if start < len(runes) {
		sents = append(sents, runes[start:])
	}
	return sents
}

// Normalize prepares raw extracted text for chunking: it canonicalizes line
// endings, collapses runs of three or more newlines to a paragraph break, and
// strips trailing whitespace from each line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text) + "\n"
}
