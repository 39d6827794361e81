package synth

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Transient failures are worth retrying: the engine was reachable but
// temporarily refused or timed out.
var (
	// ErrRateLimited indicates the engine rejected the request for quota
	// reasons.
	ErrRateLimited = errors.New("synthesizer rate limited")
	// ErrUnavailable indicates the engine is not ready to synthesize.
	ErrUnavailable = errors.New("synthesizer unavailable")
	// ErrNoFallback indicates the failure policy asked for a fallback engine
	// but none is configured.
	ErrNoFallback = errors.New("no fallback engine configured")
)

// TransientError marks an engine failure as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the orchestrator's retry policy applies to it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// SynthesisError reports that a chunk could not be synthesized after every
// retry (and the fallback, when one applies) was exhausted.
type SynthesisError struct {
	Chunk    int
	Attempts int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for chunk %d after %d attempts: %v", e.Chunk, e.Attempts, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
