// Package serve implements the synthesis engine interface against a
// self-hosted TTS HTTP service speaking a small JSON-in/WAV-out contract.
// Timeouts and 429/5xx responses are reported as transient so the
// orchestrator's retry policy applies.
package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bookvoice/bookvoice/internal/wavio"
	"github.com/bookvoice/bookvoice/synth"
	"github.com/charmbracelet/log"
)

const (
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
	apiVoices     = "/v1/voices"

	contentTypeJSON = "application/json"
	contentTypeWAV  = "audio/wav"
)

// request is the JSON payload sent to the service.
type request struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
}

// errorResponse is the structured error body the service may return.
type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"error_code,omitempty"`
}

// voiceResponse is one entry of the /v1/voices listing.
type voiceResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// Engine talks to one TTS service instance.
type Engine struct {
	client  *http.Client
	baseURL string
}

// New creates an engine for the service at baseURL. The timeout bounds each
// synthesis request end to end.
func New(baseURL string, timeout time.Duration) *Engine {
	return &Engine{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name implements synth.Engine.
func (e *Engine) Name() string { return "serve" }

// Synthesize posts the chunk to the service and returns the WAV response.
func (e *Engine) Synthesize(ctx context.Context, text string, params synth.Params) (*synth.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}

	body, err := json.Marshal(request{
		Text:  text,
		Voice: params.Voice,
		Rate:  params.Rate,
		Pitch: params.Pitch,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+apiSynthesize, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeWAV)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network and timeout failures are worth retrying.
		return nil, synth.Transient(fmt.Errorf("synthesis request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, synth.Transient(fmt.Errorf("%w: %s", synth.ErrRateLimited, e.errorDetail(resp)))
	case resp.StatusCode >= 500:
		return nil, synth.Transient(fmt.Errorf("service error %d: %s", resp.StatusCode, e.errorDetail(resp)))
	default:
		return nil, fmt.Errorf("service rejected request with %d: %s", resp.StatusCode, e.errorDetail(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, synth.Transient(fmt.Errorf("read audio response: %w", err))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("service returned empty audio")
	}

	audio := &synth.Audio{Data: data}
	if samples, format, err := wavio.Decode(data); err == nil {
		audio.Duration = format.Duration(len(samples))
	}
	return audio, nil
}

func (e *Engine) errorDetail(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.Status
	}
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Detail != "" {
		if er.Code != "" {
			return fmt.Sprintf("%s (code %s)", er.Detail, er.Code)
		}
		return er.Detail
	}
	return strings.TrimSpace(string(body))
}

// Voices queries the service's voice listing. An unreachable service yields
// an empty list.
func (e *Engine) Voices() []synth.Voice {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiVoices, nil)
	if err != nil {
		return nil
	}
	resp, err := e.client.Do(req)
	if err != nil {
		log.Debug("voice listing failed", "url", e.baseURL, "err", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var listed []voiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil
	}
	voices := make([]synth.Voice, 0, len(listed))
	for _, v := range listed {
		voices = append(voices, synth.Voice{ID: v.ID, Name: v.Name, Language: v.Language, Gender: v.Gender})
	}
	return voices
}

// Available performs a health check against the service.
func (e *Engine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiHealth, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close implements synth.Engine.
func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
