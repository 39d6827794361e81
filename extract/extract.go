// Package extract turns source documents into normalized narration text plus
// a chapter manifest. Markdown is parsed properly; plain text falls back to
// heading heuristics.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bookvoice/bookvoice/book"
	"github.com/bookvoice/bookvoice/chunker"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractionError reports a failure to read or parse a source document.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Book reads a document and returns narration-ready text and its manifest.
// The returned text is already normalized, and the manifest's chapter offsets
// are rune positions into that exact text.
func Book(path string) (string, *book.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, &ExtractionError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return "", nil, &ExtractionError{Path: path, Err: fmt.Errorf("empty file")}
	}
	if !utf8.Valid(data) {
		return "", nil, &ExtractionError{Path: path, Err: fmt.Errorf("not valid UTF-8")}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdown":
		text, manifest, err := Markdown(data)
		if err != nil {
			return "", nil, &ExtractionError{Path: path, Err: err}
		}
		fillTitle(manifest, path)
		return text, manifest, nil
	default:
		text, manifest := PlainText(string(data))
		fillTitle(manifest, path)
		return text, manifest, nil
	}
}

func fillTitle(m *book.Manifest, path string) {
	if m.Title == "" {
		base := filepath.Base(path)
		m.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
}

// Markdown extracts narration text from markdown source. Headings of level
// one and two open chapters; inline formatting is dropped, block structure is
// kept as blank-line separated paragraphs.
func Markdown(source []byte) (string, *book.Manifest, error) {
	parser := goldmark.DefaultParser()
	doc := parser.Parse(text.NewReader(source))

	var (
		out      strings.Builder
		manifest = &book.Manifest{}
		current  = -1 // index into manifest.Chapters
	)

	flushChapter := func() {
		if current >= 0 {
			manifest.Chapters[current].End = utf8.RuneCountInString(out.String())
		}
	}

	writeBlock := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(s)
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			title := nodeText(node, source)
			if node.Level <= 2 {
				flushChapter()
				if manifest.Title == "" && node.Level == 1 && len(manifest.Chapters) == 0 && out.Len() == 0 {
					manifest.Title = title
				}
				writeBlock(title)
				start := utf8.RuneCountInString(out.String()) - utf8.RuneCountInString(title)
				manifest.Chapters = append(manifest.Chapters, book.Chapter{Title: title, Start: start})
				current = len(manifest.Chapters) - 1
			} else {
				writeBlock(title)
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Blockquote:
			writeBlock(nodeText(n, source))
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			writeBlock(nodeText(n, source))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
			// Not narratable.
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", nil, err
	}

	flushChapter()
	normalized := chunker.Normalize(out.String())
	clampChapters(manifest, normalized)
	return normalized, manifest, nil
}

// nodeText collects the plain text under a node, dropping inline markup.
func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := child.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}

var chapterLine = regexp.MustCompile(`(?i)^\s*(chapter|part|book)\s+([0-9]+|[ivxlcdm]+)\b.*$|^\s*(prologue|epilogue|introduction|preface|afterword)\s*$`)

// PlainText normalizes raw text and detects chapter headings by convention:
// short lines like "Chapter 12", "PART IV" or "Epilogue" standing on their
// own. Text without such lines yields a manifest with no chapters.
func PlainText(raw string) (string, *book.Manifest) {
	normalized := chunker.Normalize(raw)
	manifest := &book.Manifest{}

	offset := 0 // rune offset of the current line
	for _, line := range strings.SplitAfter(normalized, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if len(trimmed) <= 60 && chapterLine.MatchString(trimmed) {
			if n := len(manifest.Chapters); n > 0 {
				manifest.Chapters[n-1].End = offset
			}
			manifest.Chapters = append(manifest.Chapters, book.Chapter{
				Title: strings.TrimSpace(trimmed),
				Start: offset,
			})
		}
		offset += utf8.RuneCountInString(line)
	}
	clampChapters(manifest, normalized)
	return normalized, manifest
}

func clampChapters(m *book.Manifest, text string) {
	total := utf8.RuneCountInString(text)
	for i := range m.Chapters {
		if m.Chapters[i].End <= 0 || m.Chapters[i].End > total {
			m.Chapters[i].End = total
		}
	}
	if n := len(m.Chapters); n > 0 {
		m.Chapters[n-1].End = total
	}
}
