package chunker

import (
	"strings"
	"testing"

	"github.com/bookvoice/bookvoice/book"
)

func rejoin(chunks []book.TextChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

func TestSplitRejoinsExactly(t *testing.T) {
	text := Normalize(`The first paragraph has a few sentences. Here is another one. And a third.

The second paragraph is short.

A third paragraph closes the piece. It rambles on for a little while longer than the others do.`)

	for _, limit := range []int{25, 60, 100, 5000} {
		chunks, err := Split(text, limit, nil)
		if err != nil {
			t.Fatalf("Split(limit=%d): %v", limit, err)
		}
		if got := rejoin(chunks); got != text {
			t.Errorf("limit %d: rejoined text differs from input\ngot:  %q\nwant: %q", limit, got, text)
		}
	}
}

func TestSplitRespectsLimit(t *testing.T) {
	text := Normalize(strings.Repeat("A sentence of modest length sits here. ", 40))

	chunks, err := Split(text, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.Chars > 100 {
			t.Errorf("chunk %d has %d chars, limit is 100", c.Index, c.Chars)
		}
		if c.Chars != len([]rune(c.Text)) {
			t.Errorf("chunk %d: Chars=%d but text has %d runes", c.Index, c.Chars, len([]rune(c.Text)))
		}
		if strings.TrimSpace(c.Text) == "" {
			t.Errorf("chunk %d is blank", c.Index)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := Normalize("One sentence here. Another follows it. A third wraps up.\n\nNew paragraph with more. Final words.")

	first, err := Split(text, 40, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Split(text, 40, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSplitChapterBoundaries(t *testing.T) {
	chapterOne := "Chapter One\n\nIt was a dark and stormy night. The rain fell in torrents.\n\n"
	chapterTwo := "Chapter Two\n\nMorning came slowly. The storm had passed."
	text := Normalize(chapterOne + chapterTwo)

	oneLen := len([]rune(chapterOne))
	manifest := &book.Manifest{Chapters: []book.Chapter{
		{Title: "Chapter One", Start: 0, End: oneLen},
		{Title: "Chapter Two", Start: oneLen, End: len([]rune(text))},
	}}

	chunks, err := Split(text, 5000, manifest)
	if err != nil {
		t.Fatal(err)
	}
	if rejoin(chunks) != text {
		t.Error("rejoined text differs from input")
	}

	// Even though everything fits in one chunk, the chapter boundary forces
	// a break.
	if len(chunks) < 2 {
		t.Fatalf("expected a chunk break at the chapter boundary, got %d chunks", len(chunks))
	}
	seen := map[int]bool{}
	for _, c := range chunks {
		seen[c.Chapter] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("expected chunks in both chapters, got chapters %v", seen)
	}
}

func TestSplitChapterGapRespectsLimit(t *testing.T) {
	// A chapter that exactly fills the limit, followed by a blank-line gap.
	// The gap must not be folded backward past the limit; it belongs to the
	// next chunk instead.
	chapter := strings.Repeat("a", 50)
	text := chapter + "\n\n" + "The second chapter."
	manifest := &book.Manifest{Chapters: []book.Chapter{
		{Title: "One", Start: 0, End: 50},
		{Title: "Two", Start: 52, End: len([]rune(text))},
	}}

	chunks, err := Split(text, 50, manifest)
	if err != nil {
		t.Fatal(err)
	}
	if rejoin(chunks) != text {
		t.Fatalf("rejoined text differs from input\ngot:  %q", rejoin(chunks))
	}
	for _, c := range chunks {
		if c.Chars > 50 {
			t.Errorf("chunk %d has %d chars, limit is 50", c.Index, c.Chars)
		}
		if c.Chars != len([]rune(c.Text)) {
			t.Errorf("chunk %d: Chars=%d but text has %d runes", c.Index, c.Chars, len([]rune(c.Text)))
		}
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Chars != 50 {
		t.Errorf("first chunk has %d chars, want 50", chunks[0].Chars)
	}
	if !strings.HasPrefix(chunks[1].Text, "\n\n") {
		t.Errorf("gap whitespace missing from second chunk: %q", chunks[1].Text)
	}
	if chunks[1].Chapter != 1 {
		t.Errorf("second chunk in chapter %d, want 1", chunks[1].Chapter)
	}
}

func TestSplitTrailingGapFoldsIntoLastChunk(t *testing.T) {
	// With nothing after the gap, the final chunk absorbs it even when that
	// passes the limit.
	text := strings.Repeat("b", 50) + "\n\n"
	manifest := &book.Manifest{Chapters: []book.Chapter{
		{Title: "Only", Start: 0, End: 50},
	}}

	chunks, err := Split(text, 50, manifest)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if rejoin(chunks) != text {
		t.Errorf("rejoined text differs from input")
	}
	if chunks[0].Chars != 52 {
		t.Errorf("final chunk has %d chars, want 52", chunks[0].Chars)
	}
}

func TestSplitHardSplitsOversizedSentence(t *testing.T) {
	// No sentence boundaries at all.
	text := Normalize(strings.Repeat("word ", 100))

	chunks, err := Split(text, 50, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected hard split, got %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if c.Chars > 50 {
			t.Errorf("chunk %d has %d chars after hard split", c.Index, c.Chars)
		}
	}
	if rejoin(chunks) != text {
		t.Error("rejoined text differs from input after hard split")
	}
}

func TestSplitErrors(t *testing.T) {
	if _, err := Split("", 100, nil); err != ErrEmptyText {
		t.Errorf("empty text: got %v, want ErrEmptyText", err)
	}
	if _, err := Split("   \n\t  ", 100, nil); err != ErrEmptyText {
		t.Errorf("whitespace text: got %v, want ErrEmptyText", err)
	}
	if _, err := Split("hello", 0, nil); err != ErrInvalidLimit {
		t.Errorf("zero limit: got %v, want ErrInvalidLimit", err)
	}
	if _, err := Split("hello", -5, nil); err != ErrInvalidLimit {
		t.Errorf("negative limit: got %v, want ErrInvalidLimit", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "one\r\ntwo\r\n", "one\ntwo\n"},
		{"trailing spaces", "line one   \nline two\t\n", "line one\nline two\n"},
		{"newline runs", "a\n\n\n\n\nb", "a\n\nb\n"},
		{"missing final newline", "text", "text\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
