package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"doccrawl/internal/llm"
	"doccrawl/internal/metrics"
)

// Mode selects how fetched text becomes stored page content.
type Mode string

const (
	ModeSmart      Mode = "smart"
	ModeStructured Mode = "structured"
	ModeSummary    Mode = "summary"
	ModeRaw        Mode = "raw"
)

// ErrUnknownMode is returned by ParseMode for unrecognized names.
var ErrUnknownMode = errors.New("unknown extraction mode")

const (
	smartInputBudget      = 25000
	structuredInputBudget = 25000
	summaryInputBudget    = 15000

	// FallbackChars is how much raw content is kept when the LLM call fails.
	FallbackChars = 10000

	temperature = 0.2
)

const systemInstruction = `You extract documentation content faithfully. Use only information present in the supplied page text. Never invent APIs, parameters, versions or examples. Answer in Markdown with no preamble.`

// ParseMode maps a user-supplied name to a Mode. The empty string is raw.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRaw:
		return ModeRaw, nil
	case ModeSmart:
		return ModeSmart, nil
	case ModeStructured:
		return ModeStructured, nil
	case ModeSummary:
		return ModeSummary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// UsesLLM reports whether the mode calls the text-generation service.
func (m Mode) UsesLLM() bool {
	return m == ModeSmart || m == ModeStructured || m == ModeSummary
}

// Options configures a Pipeline. Provider and Model label metrics and logs.
type Options struct {
	Provider string
	Model    string
	Logger   *slog.Logger
}

// Pipeline rewrites raw page text through an LLM. A Pipeline with a nil
// client always falls back to truncated raw content for LLM modes.
type Pipeline struct {
	client   llm.Client
	provider string
	model    string
	logger   *slog.Logger
}

func NewPipeline(client llm.Client, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		client:   client,
		provider: opts.Provider,
		model:    opts.Model,
		logger:   logger,
	}
}

// Extract returns the stored content for a page. Raw mode returns
// rawContent unchanged. Any generation failure or empty answer yields the
// first FallbackChars characters of rawContent instead of an error.
func (p *Pipeline) Extract(ctx context.Context, rawContent, title, pageURL string, mode Mode) string {
	if !mode.UsesLLM() {
		return rawContent
	}
	if p == nil || p.client == nil {
		return Fallback(rawContent)
	}

	prompt := BuildPrompt(mode, rawContent, title, pageURL)
	out, err := p.client.Generate(ctx, llm.GenerateRequest{
		Prompt:            prompt,
		SystemInstruction: systemInstruction,
		Temperature:       temperature,
	})
	out = strings.TrimSpace(out)
	if err == nil && out == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		metrics.RecordLLMExtract(p.provider, p.model, false)
		p.logger.Warn("llm extraction failed, keeping raw content",
			"url", pageURL,
			"mode", string(mode),
			"error", err,
		)
		return Fallback(rawContent)
	}

	metrics.RecordLLMExtract(p.provider, p.model, true)
	return out
}

// Fallback truncates raw content to FallbackChars characters.
func Fallback(rawContent string) string {
	return truncateRunes(rawContent, FallbackChars)
}

// InputBudget is the number of characters of raw content sent for mode.
func InputBudget(mode Mode) int {
	switch mode {
	case ModeSmart:
		return smartInputBudget
	case ModeStructured:
		return structuredInputBudget
	case ModeSummary:
		return summaryInputBudget
	default:
		return 0
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
