// Package assemble stitches synthesized audio segments into a single
// audiobook file. Segments are decoded, converted to one common format,
// separated by silence, and written as a WAVE file carrying chapter cue
// markers and title metadata.
package assemble

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bookvoice/bookvoice/book"
	"github.com/bookvoice/bookvoice/internal/wavio"
	"github.com/charmbracelet/log"
)

// AssemblyError reports a segment that could not be decoded or an output
// file that could not be written. Chunk is -1 for output failures.
type AssemblyError struct {
	Chunk int
	Err   error
}

func (e *AssemblyError) Error() string {
	if e.Chunk < 0 {
		return fmt.Sprintf("assemble output: %v", e.Err)
	}
	return fmt.Sprintf("assemble chunk %d: %v", e.Chunk, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Config controls the output format and spacing.
type Config struct {
	SampleRate     int           // Output rate, mono PCM16
	ChunkSilence   time.Duration // Gap between chunks within a chapter
	ChapterSilence time.Duration // Gap at chapter boundaries
	Normalize      bool          // Level the output loudness
	TargetLevelDB  float64       // Loudness target in dBFS, used when Normalize is set
}

// DefaultConfig returns spacing and level defaults tuned for narration.
func DefaultConfig() Config {
	return Config{
		SampleRate:     22050,
		ChunkSilence:   400 * time.Millisecond,
		ChapterSilence: 2 * time.Second,
		Normalize:      true,
		TargetLevelDB:  -20,
	}
}

// Result describes the written audiobook.
type Result struct {
	Path     string
	Duration time.Duration
	Bytes    int
	Chapters int
}

// Assembler joins segments into one file.
type Assembler struct {
	cfg Config
}

// New builds an assembler, filling unset config fields with defaults.
func New(cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.ChunkSilence < 0 {
		cfg.ChunkSilence = def.ChunkSilence
	}
	if cfg.ChapterSilence < 0 {
		cfg.ChapterSilence = def.ChapterSilence
	}
	if cfg.Normalize && cfg.TargetLevelDB >= 0 {
		cfg.TargetLevelDB = def.TargetLevelDB
	}
	return &Assembler{cfg: cfg}
}

// Assemble decodes every segment, joins them in index order with silence in
// between, and writes the result to path atomically. Chunks carry the chapter
// assignment; the manifest contributes titles and file metadata.
func (a *Assembler) Assemble(segments []book.AudioSegment, chunks []book.TextChunk, manifest *book.Manifest, path string) (*Result, error) {
	if len(segments) == 0 {
		return nil, &AssemblyError{Chunk: -1, Err: fmt.Errorf("no segments")}
	}
	if len(segments) != len(chunks) {
		return nil, &AssemblyError{Chunk: -1, Err: fmt.Errorf("%d segments for %d chunks", len(segments), len(chunks))}
	}

	target := wavio.Format{SampleRate: a.cfg.SampleRate, Channels: 1}
	chunkGap := frames(a.cfg.ChunkSilence, a.cfg.SampleRate)
	chapterGap := frames(a.cfg.ChapterSilence, a.cfg.SampleRate)

	var (
		out      []int16
		markers  []wavio.Marker
		prevChap = -1
	)

	for i, seg := range segments {
		samples, format, err := wavio.Decode(seg.Data)
		if err != nil {
			return nil, &AssemblyError{Chunk: seg.Index, Err: err}
		}

		chapter := chunks[i].Chapter
		if i > 0 {
			if chapter != prevChap {
				out = append(out, make([]int16, chapterGap)...)
			} else {
				out = append(out, make([]int16, chunkGap)...)
			}
		}
		if chapter != prevChap {
			markers = append(markers, wavio.Marker{
				Label:  chapterTitle(manifest, chapter),
				Offset: len(out),
			})
			prevChap = chapter
		}

		out = append(out, conform(samples, format, target)...)
	}

	if a.cfg.Normalize {
		gain := normalizeGain(out, a.cfg.TargetLevelDB)
		if gain != 1 {
			applyGain(out, gain)
			log.Debug("normalized output", "gain", fmt.Sprintf("%.3f", gain))
		}
	}

	// A manifest with no chapters produces a single unnamed marker; drop it.
	if len(markers) == 1 && markers[0].Label == "" {
		markers = nil
	}

	meta := &wavio.Metadata{Software: "bookvoice"}
	if manifest != nil {
		meta.Title = manifest.Title
		meta.Artist = manifest.Author
	}

	encoded := wavio.EncodeFull(out, target, meta, markers)
	if err := writeAtomic(path, encoded); err != nil {
		return nil, &AssemblyError{Chunk: -1, Err: err}
	}

	return &Result{
		Path:     path,
		Duration: target.Duration(len(out)),
		Bytes:    len(encoded),
		Chapters: len(markers),
	}, nil
}

func chapterTitle(m *book.Manifest, chapter int) string {
	if m != nil && chapter >= 0 && chapter < len(m.Chapters) {
		return m.Chapters[chapter].Title
	}
	return ""
}

func frames(d time.Duration, rate int) int {
	if d <= 0 {
		return 0
	}
	return int(d.Seconds() * float64(rate))
}

// conform converts decoded samples to the target format: channels are mixed
// down to mono, then the rate is converted by linear interpolation.
func conform(samples []int16, from, to wavio.Format) []int16 {
	mono := samples
	if from.Channels > 1 {
		n := len(samples) / from.Channels
		mono = make([]int16, n)
		for i := 0; i < n; i++ {
			sum := 0
			for c := 0; c < from.Channels; c++ {
				sum += int(samples[i*from.Channels+c])
			}
			mono[i] = int16(sum / from.Channels)
		}
	}

	if from.SampleRate == to.SampleRate || from.SampleRate <= 0 {
		return mono
	}

	ratio := float64(from.SampleRate) / float64(to.SampleRate)
	n := int(float64(len(mono)) / ratio)
	if n == 0 {
		return nil
	}
	resampled := make([]int16, n)
	for i := range resampled {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(mono)-1 {
			resampled[i] = mono[len(mono)-1]
			continue
		}
		frac := pos - float64(j)
		v := float64(mono[j])*(1-frac) + float64(mono[j+1])*frac
		resampled[i] = int16(v)
	}
	return resampled
}

// normalizeGain computes the multiplier that brings the RMS level to the
// target dBFS, capped so the loudest sample stays in range.
func normalizeGain(samples []int16, targetDB float64) float64 {
	if len(samples) == 0 {
		return 1
	}

	var sumSq float64
	peak := 0
	for _, s := range samples {
		v := int(s)
		sumSq += float64(v) * float64(v)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms == 0 || peak == 0 {
		return 1
	}

	targetRMS := math.Pow(10, targetDB/20) * 32767
	gain := targetRMS / rms
	if maxGain := 32767 / float64(peak); gain > maxGain {
		gain = maxGain
	}
	return gain
}

func applyGain(samples []int16, gain float64) {
	for i, s := range samples {
		v := math.Round(float64(s) * gain)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".bookvoice-*.wav")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
