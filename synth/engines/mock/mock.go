// Package mock provides a deterministic in-process engine for tests. Each
// chunk of text maps to a marker tone whose frequency and duration are
// derived from the text, so ordering and substitution bugs show up as audible
// (and assertable) differences.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/bookvoice/bookvoice/internal/wavio"
	"github.com/bookvoice/bookvoice/synth"
)

const sampleRate = 22050

// Engine implements synth.Engine without any external process or network.
type Engine struct {
	mu        sync.Mutex
	delay     time.Duration
	available bool
	calls     int
	failures  map[string]int // text -> remaining scripted failures, -1 = always
	failErr   error
}

// New creates a mock engine that always succeeds.
func New() *Engine {
	return &Engine{
		available: true,
		failures:  make(map[string]int),
		failErr:   synth.Transient(synth.ErrUnavailable),
	}
}

// Name implements synth.Engine.
func (e *Engine) Name() string { return "mock" }

// SetDelay adds a simulated processing delay per call.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// FailTimes scripts n failures for the given text before it succeeds.
// n < 0 makes the text fail permanently.
func (e *Engine) FailTimes(text string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[text] = n
}

// SetFailureError overrides the error returned by scripted failures.
func (e *Engine) SetFailureError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = err
}

// Calls returns how many Synthesize calls reached the engine.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Synthesize produces the marker tone for text. The tone frequency is a hash
// of the text and the duration grows with text length, so two different
// chunks never produce identical audio.
func (e *Engine) Synthesize(ctx context.Context, text string, params synth.Params) (*synth.Audio, error) {
	e.mu.Lock()
	e.calls++
	delay := e.delay
	var failErr error
	if n, ok := e.failures[text]; ok && n != 0 {
		if n > 0 {
			e.failures[text] = n - 1
		}
		failErr = e.failErr
	}
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples := Tone(text, params.Rate)
	format := wavio.Format{SampleRate: sampleRate, Channels: 1}
	return &synth.Audio{
		Data:     wavio.Encode(samples, format),
		Duration: format.Duration(len(samples)),
	}, nil
}

// Voices implements synth.Engine.
func (e *Engine) Voices() []synth.Voice {
	return []synth.Voice{{ID: "mock-voice-1", Name: "Mock Voice", Language: "en-US", Gender: "neutral"}}
}

// Available implements synth.Engine.
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// SetAvailable toggles availability for tests.
func (e *Engine) SetAvailable(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = ok
}

// Close implements synth.Engine.
func (e *Engine) Close() error { return nil }

// Tone returns the PCM16 marker tone the mock engine emits for text. Exposed
// so tests can predict exact output.
func Tone(text string, speechRate float64) []int16 {
	h := fnv.New32a()
	h.Write([]byte(text))
	freq := 200 + float64(h.Sum32()%1000) // 200..1199 Hz

	if speechRate <= 0 {
		speechRate = 1.0
	}
	// 50ms per 10 characters, bounded, scaled by speech rate.
	dur := time.Duration(len(text)) * 5 * time.Millisecond
	if dur < 50*time.Millisecond {
		dur = 50 * time.Millisecond
	}
	if dur > 2*time.Second {
		dur = 2 * time.Second
	}
	dur = time.Duration(float64(dur) / speechRate)

	n := int(float64(sampleRate) * dur.Seconds())
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / sampleRate
		samples[i] = int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*freq*t))
	}
	return samples
}
