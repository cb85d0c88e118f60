package agentsync

import (
	"context"
	"unicode/utf8"
)

// TokenCounter estimates token count for a string.
// Callers can plug in an exact tokenizer (e.g. tiktoken); default is CharFallbackCounter.
type TokenCounter interface {
	Count(text string) (int, error)
}

// CharFallbackCounter estimates tokens as runes/CharsPerToken.
// Zero value uses 4 chars per token.
type CharFallbackCounter struct {
	CharsPerToken int
}

// Count returns ceil(rune_count / CharsPerToken). If CharsPerToken <= 0, uses 4.
func (c *CharFallbackCounter) Count(text string) (int, error) {
	cpt := c.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	n := utf8.RuneCountInString(text)
	return (n + cpt - 1) / cpt, nil
}

// Summary describes the outcome of loading an agent's resources.
type Summary struct {
	Total  int      `json:"total"`
	Loaded int      `json:"loaded"`
	Stale  int      `json:"stale"`
	Failed int      `json:"failed"`
	Tokens int      `json:"tokens"`
	Errors []string `json:"errors,omitempty"`
}

// Summarize counts fresh, stale and failed loads and estimates the token footprint of the
// usable content. A fresh load carrying an error (a best-effort conversion) counts as loaded and
// its error is still listed. A nil counter uses CharFallbackCounter.
func Summarize(contents []ResourceContent, tc TokenCounter) Summary {
	if tc == nil {
		tc = &CharFallbackCounter{}
	}
	s := Summary{Total: len(contents)}
	for _, c := range contents {
		switch {
		case c.OK():
			s.Loaded++
		case c.Stale:
			s.Stale++
			s.Errors = append(s.Errors, c.URL+": "+c.Error)
		case c.Content != "":
			s.Loaded++
			s.Errors = append(s.Errors, c.URL+": "+c.Error)
		default:
			s.Failed++
			s.Errors = append(s.Errors, c.URL+": "+c.Error)
		}
		if c.Content == "" {
			continue
		}
		if n, err := tc.Count(c.Content); err == nil {
			s.Tokens += n
		}
	}
	return s
}

// RenderRequest is what a request handler hands to the host for presentation.
type RenderRequest struct {
	Agent     Agent
	Query     string
	Resources []ResourceContent
	Summary   Summary
}

// Renderer is the external presentation collaborator (chat response streaming, UI).
// It receives the agent prompt, the loaded resources and their status summary.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, req RenderRequest) error

// Render calls f(ctx, req).
func (f RendererFunc) Render(ctx context.Context, req RenderRequest) error { return f(ctx, req) }
