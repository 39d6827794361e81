// Package pipeline drives a full conversion: extract, optional rewrite,
// chunk, synthesize, assemble. It owns nothing but the ordering; every stage
// lives in its own package and is wired in through Pipeline fields.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookvoice/bookvoice/assemble"
	"github.com/bookvoice/bookvoice/book"
	"github.com/bookvoice/bookvoice/chunker"
	"github.com/bookvoice/bookvoice/extract"
	"github.com/bookvoice/bookvoice/rewrite"
	"github.com/bookvoice/bookvoice/synth"
	"github.com/charmbracelet/log"
)

// Stage names the pipeline phase an error belongs to.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageRewrite    Stage = "rewrite"
	StageChunk      Stage = "chunk"
	StageSynthesize Stage = "synthesize"
	StageAssemble   Stage = "assemble"
)

// Error wraps a stage failure. Chunk is the failing chunk index when one is
// known, -1 otherwise.
type Error struct {
	Stage Stage
	Chunk int
	Err   error
}

func (e *Error) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("%s stage, chunk %d: %v", e.Stage, e.Chunk, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Report summarizes a finished conversion.
type Report struct {
	Input         string
	Output        string
	Title         string
	Chapters      int
	Chunks        int
	CacheHits     int
	Synthesized   int
	Fallbacks     int
	AudioDuration time.Duration
	Elapsed       time.Duration
}

// Pipeline holds the wired stages. Rewriter may be nil to skip rewriting.
type Pipeline struct {
	Rewriter     *rewrite.Rewriter
	Orchestrator *synth.Orchestrator
	Assembler    *assemble.Assembler
	MaxChunk     int // Chunk size limit in runes
}

// Run converts one book. It returns a report on success; on failure the
// error is a *Error naming the stage and, when known, the chunk.
func (p *Pipeline) Run(ctx context.Context, input, output string) (*Report, error) {
	started := time.Now()

	text, manifest, err := extract.Book(input)
	if err != nil {
		return nil, &Error{Stage: StageExtract, Chunk: -1, Err: err}
	}
	log.Info("extracted book",
		"input", input, "title", manifest.Title, "chapters", len(manifest.Chapters), "chars", len(text))

	if p.Rewriter != nil {
		rewritten, err := p.Rewriter.Enhance(ctx, text, manifest)
		if err != nil {
			// Only cancellation surfaces from Enhance.
			return nil, &Error{Stage: StageRewrite, Chunk: -1, Err: err}
		}
		if rewritten != text {
			// Chapter offsets no longer line up with the rewritten text;
			// re-detect them so chunking still breaks at chapters.
			text, manifest = realign(rewritten, manifest)
		}
	}

	chunks, err := chunker.Split(text, p.MaxChunk, manifest)
	if err != nil {
		return nil, &Error{Stage: StageChunk, Chunk: -1, Err: err}
	}
	log.Info("chunked text", "chunks", len(chunks), "max_chars", p.MaxChunk)

	segments, err := p.Orchestrator.SynthesizeAll(ctx, chunks)
	if err != nil {
		perr := &Error{Stage: StageSynthesize, Chunk: -1, Err: err}
		var synthErr *synth.SynthesisError
		if errors.As(err, &synthErr) {
			perr.Chunk = synthErr.Chunk
		}
		return nil, perr
	}

	report := &Report{
		Input:    input,
		Output:   output,
		Title:    manifest.Title,
		Chapters: len(manifest.Chapters),
		Chunks:   len(chunks),
	}
	primary := p.Orchestrator.PrimaryEngine()
	for _, seg := range segments {
		if seg.Cached {
			report.CacheHits++
		} else {
			report.Synthesized++
		}
		if seg.Engine != "" && seg.Engine != primary {
			report.Fallbacks++
		}
	}

	result, err := p.Assembler.Assemble(segments, chunks, manifest, output)
	if err != nil {
		perr := &Error{Stage: StageAssemble, Chunk: -1, Err: err}
		var asmErr *assemble.AssemblyError
		if errors.As(err, &asmErr) {
			perr.Chunk = asmErr.Chunk
		}
		return nil, perr
	}

	report.AudioDuration = result.Duration
	report.Elapsed = time.Since(started)
	log.Info("conversion complete",
		"output", output,
		"duration", report.AudioDuration.Round(time.Second),
		"chunks", report.Chunks,
		"cache_hits", report.CacheHits,
		"elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// realign rebuilds chapter offsets against rewritten text by locating the
// original chapter titles. Titles the model reworded fall back to a single
// chapterless manifest region, which only costs chapter markers, not audio.
func realign(text string, orig *book.Manifest) (string, *book.Manifest) {
	fresh, detected := extract.PlainText(text)
	if len(detected.Chapters) == len(orig.Chapters) && len(orig.Chapters) > 0 {
		for i := range detected.Chapters {
			if orig.Chapters[i].Title != "" {
				detected.Chapters[i].Title = orig.Chapters[i].Title
			}
		}
		detected.Title = orig.Title
		detected.Author = orig.Author
		detected.Language = orig.Language
		return fresh, detected
	}

	kept := &book.Manifest{
		Title:    orig.Title,
		Author:   orig.Author,
		Language: orig.Language,
	}
	if len(orig.Chapters) > 0 {
		log.Warn("chapter boundaries lost after rewrite, markers disabled",
			"before", len(orig.Chapters), "after", len(detected.Chapters))
	}
	return fresh, kept
}
