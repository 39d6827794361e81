package assemble

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookvoice/bookvoice/book"
	"github.com/bookvoice/bookvoice/internal/wavio"
)

const rate = 22050

// segment builds a WAV payload of exactly frames samples at the output rate.
func segment(index, frames int) book.AudioSegment {
	samples := make([]int16, frames)
	for i := range samples {
		samples[i] = int16((i%100)*300 - 15000)
	}
	return book.AudioSegment{
		Index: index,
		Data:  wavio.Encode(samples, wavio.Format{SampleRate: rate, Channels: 1}),
	}
}

func chunk(index, chapter int) book.TextChunk {
	return book.TextChunk{Index: index, Text: "text", Chars: 4, Chapter: chapter}
}

func TestAssembleDurationAndMarkers(t *testing.T) {
	// Three chapters over four chunks: silence appears between chunks of the
	// same chapter and a longer one at each chapter change.
	segments := []book.AudioSegment{
		segment(0, rate),   // 1s, chapter 0
		segment(1, rate/2), // 0.5s, chapter 0
		segment(2, rate),   // 1s, chapter 1
		segment(3, rate),   // 1s, chapter 2
	}
	chunks := []book.TextChunk{chunk(0, 0), chunk(1, 0), chunk(2, 1), chunk(3, 2)}
	manifest := &book.Manifest{
		Title:  "The Test Book",
		Author: "A. Writer",
		Chapters: []book.Chapter{
			{Title: "One"}, {Title: "Two"}, {Title: "Three"},
		},
	}

	out := filepath.Join(t.TempDir(), "book.wav")
	a := New(Config{
		SampleRate:     rate,
		ChunkSilence:   400 * time.Millisecond,
		ChapterSilence: 2 * time.Second,
	})

	result, err := a.Assemble(segments, chunks, manifest, out)
	if err != nil {
		t.Fatal(err)
	}

	// 1s + 0.4s + 0.5s + 2s + 1s + 2s + 1s
	want := 7900 * time.Millisecond
	if result.Duration != want {
		t.Errorf("duration = %v, want %v", result.Duration, want)
	}
	if result.Chapters != 3 {
		t.Errorf("chapter markers = %d, want 3", result.Chapters)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	samples, format, err := wavio.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if format.SampleRate != rate || format.Channels != 1 {
		t.Errorf("output format = %+v", format)
	}
	if got := format.Duration(len(samples)); got != want {
		t.Errorf("decoded duration = %v, want %v", got, want)
	}

	markers, err := wavio.Markers(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(markers) != 3 {
		t.Fatalf("marker count = %d, want 3", len(markers))
	}
	wantOffsets := []struct {
		label  string
		offset int
	}{
		{"One", 0},
		// 1s + 0.4s gap + 0.5s + 2s gap
		{"Two", rate + rate*4/10 + rate/2 + rate*2},
		// ... + 1s + 2s gap
		{"Three", rate + rate*4/10 + rate/2 + rate*2 + rate + rate*2},
	}
	for i, w := range wantOffsets {
		if markers[i].Label != w.label || markers[i].Offset != w.offset {
			t.Errorf("marker %d = %+v, want %+v", i, markers[i], w)
		}
	}
}

func TestAssembleConformsInputFormats(t *testing.T) {
	// A stereo 44.1 kHz segment must be mixed down and resampled.
	stereo := make([]int16, 44100*2)
	for i := 0; i < len(stereo); i += 2 {
		stereo[i] = 8000
		stereo[i+1] = -8000
	}
	segments := []book.AudioSegment{{
		Index: 0,
		Data:  wavio.Encode(stereo, wavio.Format{SampleRate: 44100, Channels: 2}),
	}}
	chunks := []book.TextChunk{chunk(0, -1)}

	out := filepath.Join(t.TempDir(), "out.wav")
	a := New(Config{SampleRate: rate})
	result, err := a.Assemble(segments, chunks, nil, out)
	if err != nil {
		t.Fatal(err)
	}

	// One second of audio regardless of the source rate.
	if got := result.Duration.Round(10 * time.Millisecond); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}
}

func TestAssembleNormalizesLevel(t *testing.T) {
	// A very quiet constant signal should be amplified.
	quiet := make([]int16, rate)
	for i := range quiet {
		quiet[i] = 50
	}
	segments := []book.AudioSegment{{
		Index: 0,
		Data:  wavio.Encode(quiet, wavio.Format{SampleRate: rate, Channels: 1}),
	}}
	chunks := []book.TextChunk{chunk(0, -1)}

	out := filepath.Join(t.TempDir(), "out.wav")
	a := New(Config{SampleRate: rate, Normalize: true, TargetLevelDB: -20})
	if _, err := a.Assemble(segments, chunks, nil, out); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(out)
	samples, _, err := wavio.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	var peak int16
	for _, s := range samples {
		if s > peak {
			peak = s
		}
	}
	if peak <= 50 {
		t.Errorf("peak = %d, expected amplification above the input level", peak)
	}
}

func TestAssembleCorruptSegment(t *testing.T) {
	segments := []book.AudioSegment{
		segment(0, rate/10),
		{Index: 1, Data: []byte("this is not audio")},
	}
	chunks := []book.TextChunk{chunk(0, -1), chunk(1, -1)}

	out := filepath.Join(t.TempDir(), "out.wav")
	a := New(Config{SampleRate: rate})
	_, err := a.Assemble(segments, chunks, nil, out)
	if err == nil {
		t.Fatal("expected an error for a corrupt segment")
	}

	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("error type %T, want *AssemblyError", err)
	}
	if asmErr.Chunk != 1 {
		t.Errorf("failing chunk = %d, want 1", asmErr.Chunk)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("no output file should exist after a failed assembly")
	}
}

func TestAssembleRejectsEmptyInput(t *testing.T) {
	a := New(Config{SampleRate: rate})
	if _, err := a.Assemble(nil, nil, nil, filepath.Join(t.TempDir(), "out.wav")); err == nil {
		t.Error("expected an error for empty input")
	}
}
