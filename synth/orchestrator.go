package synth

import (
	"context"
	"sync"
	"time"

	"github.com/bookvoice/bookvoice/book"
	"github.com/bookvoice/bookvoice/internal/cache"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// FailurePolicy decides what happens when a chunk exhausts its retries.
type FailurePolicy int

const (
	// PolicyAbort fails the whole job, naming the offending chunk.
	PolicyAbort FailurePolicy = iota
	// PolicyFallback substitutes the fallback engine/voice for the failed
	// chunk and continues. Chunks are never dropped.
	PolicyFallback
)

// Config tunes the orchestrator.
type Config struct {
	MaxInFlight       int           // Concurrent engine calls
	RequestsPerWindow int           // Rate limit: requests per Window
	Window            time.Duration // Rate limit window
	RetryAttempts     int           // Max attempts per chunk per engine
	BackoffBase       time.Duration // First retry delay, doubled per attempt
	OnChunkFailure    FailurePolicy
	Params            Params // Primary voice parameters
	FallbackParams    Params // Used with the fallback engine
}

// DefaultConfig returns conservative defaults that respect typical hosted TTS
// quotas.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:       4,
		RequestsPerWindow: 30,
		Window:            time.Minute,
		RetryAttempts:     3,
		BackoffBase:       500 * time.Millisecond,
		OnChunkFailure:    PolicyAbort,
		Params:            Params{Rate: 1.0},
	}
}

// Orchestrator synthesizes chunk sequences: cache check per chunk, bounded
// concurrency and a shared rate limiter across workers on misses, retries
// with exponential backoff, and write-back of fresh results. Output order is
// always chunk order, whatever the completion order.
type Orchestrator struct {
	engine   Engine
	fallback Engine // May be nil; required for PolicyFallback
	store    *cache.Store
	limiter  *rate.Limiter
	cfg      Config
}

// NewOrchestrator assembles an orchestrator. fallback may be nil when the
// failure policy is PolicyAbort. store may be nil to disable caching.
func NewOrchestrator(engine, fallback Engine, store *cache.Store, cfg Config) *Orchestrator {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerWindow > 0 {
		interval := cfg.Window / time.Duration(cfg.RequestsPerWindow)
		limiter = rate.NewLimiter(rate.Every(interval), cfg.RequestsPerWindow)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	return &Orchestrator{
		engine:   engine,
		fallback: fallback,
		store:    store,
		limiter:  limiter,
		cfg:      cfg,
	}
}

// PrimaryEngine reports the name of the primary engine.
func (o *Orchestrator) PrimaryEngine() string { return o.engine.Name() }

// SynthesizeAll resolves every chunk to an audio segment, in chunk order. It
// fails only when a chunk exhausts its retries under PolicyAbort, or when the
// fallback also fails under PolicyFallback; the returned error is then a
// *SynthesisError naming the chunk. Cancelling ctx stops new engine calls;
// results already written to the cache stay valid.
func (o *Orchestrator) SynthesizeAll(ctx context.Context, chunks []book.TextChunk) ([]book.AudioSegment, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	segments := make([]book.AudioSegment, len(chunks))
	sem := make(chan struct{}, o.cfg.MaxInFlight)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := range chunks {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(chunk book.TextChunk) {
				defer wg.Done()
				defer func() { <-sem }()

				seg, err := o.resolveChunk(ctx, chunk)
				if err != nil {
					fail(err)
					return
				}
				segments[chunk.Index] = seg
			}(chunks[i])
		}
		if ctx.Err() != nil {
			break
		}
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return segments, nil
}

// resolveChunk produces the segment for one chunk: cache first, then the
// primary engine, then the fallback when the policy allows it.
func (o *Orchestrator) resolveChunk(ctx context.Context, chunk book.TextChunk) (book.AudioSegment, error) {
	key := cache.Key(chunk.Text, o.engine.Name(), o.cfg.Params.Voice, o.cfg.Params.Rate, o.cfg.Params.Pitch)
	if o.store != nil {
		if data, ok := o.store.Get(key); ok {
			return book.AudioSegment{
				Index:  chunk.Index,
				Data:   data,
				Voice:  o.cfg.Params.Voice,
				Engine: o.engine.Name(),
				Cached: true,
			}, nil
		}
	}

	audio, attempts, err := o.synthesizeWithRetry(ctx, o.engine, chunk.Text, o.cfg.Params)
	if err == nil {
		if o.store != nil {
			o.store.Put(key, audio.Data)
		}
		return book.AudioSegment{
			Index:    chunk.Index,
			Data:     audio.Data,
			Duration: audio.Duration,
			Voice:    o.cfg.Params.Voice,
			Engine:   o.engine.Name(),
		}, nil
	}

	synthErr := &SynthesisError{Chunk: chunk.Index, Attempts: attempts, Err: err}
	if o.cfg.OnChunkFailure != PolicyFallback {
		return book.AudioSegment{}, synthErr
	}
	if o.fallback == nil {
		return book.AudioSegment{}, &SynthesisError{Chunk: chunk.Index, Attempts: attempts, Err: ErrNoFallback}
	}

	log.Warn("substituting fallback engine for chunk",
		"chunk", chunk.Index, "engine", o.fallback.Name(), "err", err)

	fbParams := o.cfg.FallbackParams
	if fbParams.Rate == 0 {
		fbParams.Rate = o.cfg.Params.Rate
	}
	audio, fbAttempts, fbErr := o.synthesizeWithRetry(ctx, o.fallback, chunk.Text, fbParams)
	if fbErr != nil {
		return book.AudioSegment{}, &SynthesisError{
			Chunk:    chunk.Index,
			Attempts: attempts + fbAttempts,
			Err:      fbErr,
		}
	}

	fbKey := cache.Key(chunk.Text, o.fallback.Name(), fbParams.Voice, fbParams.Rate, fbParams.Pitch)
	if o.store != nil {
		o.store.Put(fbKey, audio.Data)
	}
	return book.AudioSegment{
		Index:    chunk.Index,
		Data:     audio.Data,
		Duration: audio.Duration,
		Voice:    fbParams.Voice,
		Engine:   o.fallback.Name(),
	}, nil
}

// synthesizeWithRetry runs one engine against one chunk, honoring the shared
// rate limiter and retrying transient failures with exponential backoff.
func (o *Orchestrator) synthesizeWithRetry(ctx context.Context, engine Engine, text string, params Params) (*Audio, int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < o.cfg.RetryAttempts; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, attempts, err
		}
		attempts++

		audio, err := engine.Synthesize(ctx, text, params)
		if err == nil {
			return audio, attempts, nil
		}
		lastErr = err

		if !IsTransient(err) {
			break
		}
		if attempt == o.cfg.RetryAttempts-1 {
			break
		}

		delay := o.cfg.BackoffBase << uint(attempt)
		log.Debug("synthesis attempt failed, backing off",
			"engine", engine.Name(), "attempt", attempts, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, attempts, lastErr
}
