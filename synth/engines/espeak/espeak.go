// Package espeak implements the synthesis engine interface on top of the
// espeak-ng command line tool. It is the offline engine: no network, no
// quota, robotic but dependable, which also makes it the usual fallback.
package espeak

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bookvoice/bookvoice/internal/wavio"
	"github.com/bookvoice/bookvoice/synth"
	"github.com/charmbracelet/log"
)

const baseWordsPerMinute = 175

// Engine shells out to espeak-ng per synthesis call.
type Engine struct {
	binary  string
	tempDir string

	mu        sync.Mutex
	available bool
}

// New locates the espeak-ng binary and prepares a temp directory for output
// files. It fails if no usable binary is on the PATH.
func New() (*Engine, error) {
	binary, err := findBinary()
	if err != nil {
		return nil, err
	}

	tempDir := filepath.Join(os.TempDir(), "bookvoice-espeak")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	log.Debug("espeak engine ready", "binary", binary)
	return &Engine{binary: binary, tempDir: tempDir, available: true}, nil
}

func findBinary() (string, error) {
	for _, name := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("espeak-ng not found in PATH: %w", synth.ErrUnavailable)
}

// Name implements synth.Engine.
func (e *Engine) Name() string { return "espeak" }

// Synthesize runs espeak-ng and returns its WAV output. Text is passed on
// stdin so arbitrary content never hits the argument list.
func (e *Engine) Synthesize(ctx context.Context, text string, params synth.Params) (*synth.Audio, error) {
	out, err := os.CreateTemp(e.tempDir, "seg-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer func() {
		if err := os.Remove(outPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove temp file", "path", outPath, "err", err)
		}
	}()

	args := []string{"-w", outPath, "--stdin"}
	if params.Voice != "" {
		args = append(args, "-v", params.Voice)
	}
	rate := params.Rate
	if rate <= 0 {
		rate = 1.0
	}
	args = append(args, "-s", strconv.Itoa(int(baseWordsPerMinute*rate)))
	args = append(args, "-p", strconv.Itoa(pitchValue(params.Pitch)))

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdin = strings.NewReader(text)
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("espeak-ng failed: %w, output: %s", err, output)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read espeak-ng output: %w", err)
	}

	audio := &synth.Audio{Data: data}
	if samples, format, err := wavio.Decode(data); err == nil {
		audio.Duration = format.Duration(len(samples))
	}
	return audio, nil
}

// pitchValue maps the neutral-zero pitch parameter onto espeak's 0-99 scale,
// 50 being the default.
func pitchValue(pitch float64) int {
	v := 50 + int(pitch*25)
	if v < 0 {
		v = 0
	}
	if v > 99 {
		v = 99
	}
	return v
}

// Voices lists the common espeak-ng English voices. The full set is queried
// from the binary at runtime by callers that need it; this static list covers
// configuration validation.
func (e *Engine) Voices() []synth.Voice {
	return []synth.Voice{
		{ID: "en-us", Name: "English (America)", Language: "en-US", Gender: "male"},
		{ID: "en-gb", Name: "English (Great Britain)", Language: "en-GB", Gender: "male"},
		{ID: "en-gb-x-rp", Name: "English (Received Pronunciation)", Language: "en-GB", Gender: "male"},
	}
}

// Available implements synth.Engine.
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Close removes the engine's temp directory.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.available = false
	e.mu.Unlock()
	return os.RemoveAll(e.tempDir)
}
