// Package rewrite optionally cleans extracted text up for narration using a
// hosted language model. Rewriting is best-effort by contract: any failure
// falls back to the original text and is never fatal to a conversion job.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bookvoice/bookvoice/book"
	"github.com/bookvoice/bookvoice/chunker"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// systemPrompt instructs the model to optimize text for speech without
// changing its content.
const systemPrompt = `You are a text optimization expert for audiobook creation. Process the text to make it ideal for text-to-speech conversion.

INSTRUCTIONS:
1. Preserve the original meaning and content completely
2. Fix punctuation for natural speech flow
3. Break up extremely long sentences into shorter, natural ones
4. Fix formatting artifacts (broken words, stray spacing)
5. Expand abbreviations and numbers for speech where a narrator would ("Dr." to "Doctor")
6. Keep dialogue natural and maintain paragraph structure

DO NOT change the story, names, or the author's style, and do not add commentary.

Return ONLY the optimized text, nothing else.`

// ErrNoAPIKey is returned when a rewriter is constructed without credentials.
var ErrNoAPIKey = errors.New("rewrite: API key required")

// Config tunes the rewriter.
type Config struct {
	APIKey         string
	Model          string        // e.g. "gemini-1.5-flash"
	BaseURL        string        // Override the API host, mainly for tests
	RequestsPerMin int           // Throttle shared across all requests
	MaxChunkChars  int           // Upper bound per model request
	Timeout        time.Duration // Per-request timeout
}

// DefaultConfig matches hosted free-tier limits.
func DefaultConfig() Config {
	return Config{
		Model:          "gemini-1.5-flash",
		RequestsPerMin: 15,
		MaxChunkChars:  12000,
		Timeout:        2 * time.Minute,
	}
}

// Rewriter calls the generateContent API with its own request throttle.
type Rewriter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// New builds a rewriter. The API key is mandatory; everything else falls back
// to defaults.
func New(cfg Config) (*Rewriter, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = def.RequestsPerMin
	}
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = def.MaxChunkChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	return &Rewriter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMin)), 1),
	}, nil
}

// Enhance rewrites text for narration. The text is split into model-sized
// pieces; each piece that fails keeps its original wording, so Enhance always
// returns usable text. Only context cancellation aborts it.
func (r *Rewriter) Enhance(ctx context.Context, text string, manifest *book.Manifest) (string, error) {
	chunks, err := chunker.Split(text, r.cfg.MaxChunkChars, nil)
	if err != nil {
		// Nothing to rewrite is not a failure.
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))
	failed := 0

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		rewritten, err := r.rewriteChunk(ctx, chunk.Text, manifest)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Fall back to the original wording for this piece.
			failed++
			log.Warn("rewrite failed, using original text", "chunk", chunk.Index, "err", err)
			rewritten = chunk.Text
		}
		out.WriteString(rewritten)
	}

	if failed > 0 {
		log.Info("rewrite finished with fallbacks", "chunks", len(chunks), "fallbacks", failed)
	}
	return out.String(), nil
}

func (r *Rewriter) rewriteChunk(ctx context.Context, text string, manifest *book.Manifest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	prompt := systemPrompt
	if manifest != nil && manifest.Title != "" {
		prompt += fmt.Sprintf("\n\nThe text is from %q", manifest.Title)
		if manifest.Author != "" {
			prompt += fmt.Sprintf(" by %s", manifest.Author)
		}
		prompt += "."
	}
	prompt += "\n\nTEXT:\n" + text

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			MaxOutputTokens: 8192,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", r.cfg.BaseURL, r.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty model response")
	}

	rewritten := gr.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(rewritten) == "" {
		return "", errors.New("blank model response")
	}

	// A wildly shorter response means the model dropped content; keep the
	// original rather than losing text.
	if len(rewritten) < len(text)/2 {
		return "", fmt.Errorf("response suspiciously short: %d of %d chars", len(rewritten), len(text))
	}
	return rewritten, nil
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
