// Package book defines the data model shared by the conversion pipeline:
// chunks of normalized text, synthesized audio segments, and the chapter
// manifest carried from extraction through assembly.
package book

import "time"

// TextChunk is a bounded-size span of normalized text processed as one
// synthesis unit. Chunks are immutable once created; the concatenation of all
// chunk texts reproduces the normalized book text exactly.
type TextChunk struct {
	Index   int    // Position in the chunk sequence
	Text    string // Exact substring of the normalized text
	Chars   int    // Character (rune) count of Text
	Chapter int    // Index into Manifest.Chapters, -1 if unknown
}

// AudioSegment is the synthesized audio for a single chunk. Produced by a
// cache hit or a fresh engine call and handed to the assembler in chunk order.
type AudioSegment struct {
	Index    int           // Matching TextChunk index
	Data     []byte        // WAV payload
	Duration time.Duration // Decoded duration, zero until assembly
	Voice    string        // Voice that produced the audio
	Engine   string        // Engine that produced the audio
	Cached   bool          // True if served from the cache store
}

// Chapter describes one chapter of the extracted text as a half-open rune
// range [Start, End) into the normalized text.
type Chapter struct {
	Title string
	Start int
	End   int
}

// Manifest carries book metadata and chapter boundaries from the extractor to
// the assembler. It is never mutated after extraction.
type Manifest struct {
	Title    string
	Author   string
	Language string
	Chapters []Chapter
}

// ChapterAt returns the index of the chapter containing the given rune
// offset, or -1 if the offset falls outside every chapter.
func (m *Manifest) ChapterAt(offset int) int {
	for i, ch := range m.Chapters {
		if offset >= ch.Start && offset < ch.End {
			return i
		}
	}
	return -1
}
