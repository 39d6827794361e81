package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bookvoice/bookvoice/pipeline"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	keywordStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#ECFD65"})

	paragraphStyle = lipgloss.NewStyle().
			Width(helpWidth()).
			Padding(0, 0, 0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "241", Dark: "246"}).
			Width(12)
)

func keyword(s string) string {
	return keywordStyle.Render(s)
}

func paragraph(s string) string {
	return paragraphStyle.Render(strings.TrimSpace(s))
}

func helpWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || w > 80 {
		return 78
	}
	return w - 2
}

// renderReport formats a conversion summary for the terminal.
func renderReport(r *pipeline.Report) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	row("Output", r.Output)
	if r.Title != "" {
		row("Title", r.Title)
	}
	if r.Chapters > 0 {
		row("Chapters", fmt.Sprintf("%d", r.Chapters))
	}
	row("Duration", r.AudioDuration.Round(time.Second).String())
	row("Chunks", fmt.Sprintf("%d (%d cached, %d synthesized)", r.Chunks, r.CacheHits, r.Synthesized))
	if r.Fallbacks > 0 {
		row("Fallbacks", fmt.Sprintf("%d", r.Fallbacks))
	}
	row("Took", r.Elapsed.Round(time.Millisecond).String())
	return b.String()
}
