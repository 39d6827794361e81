// Package synth turns text chunks into audio segments. It defines the engine
// interface implemented under synth/engines and the orchestrator that drives
// cache-checked, rate-limited, concurrent synthesis.
package synth

import (
	"context"
	"time"
)

// Params are the synthesis parameters that shape an engine's output. They are
// part of the cache fingerprint: change any field and the result is a
// different audio segment.
type Params struct {
	Voice string  // Engine-specific voice identifier
	Rate  float64 // Speech rate multiplier, 1.0 = normal
	Pitch float64 // Pitch adjustment, 0 = neutral
}

// Audio is one synthesized result.
type Audio struct {
	Data     []byte        // WAV payload
	Duration time.Duration // Reported duration, zero if the engine doesn't know
}

// Voice describes a voice an engine offers.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
}

// Engine is a speech synthesizer. Implementations must be safe for concurrent
// Synthesize calls; the orchestrator bounds in-flight requests but issues them
// from multiple goroutines.
type Engine interface {
	// Name identifies the engine; it participates in cache keys.
	Name() string

	// Synthesize converts text to audio using the given parameters.
	Synthesize(ctx context.Context, text string, params Params) (*Audio, error)

	// Voices lists the voices this engine can speak with.
	Voices() []Voice

	// Available reports whether the engine can currently synthesize.
	Available() bool

	// Close releases engine resources.
	Close() error
}
