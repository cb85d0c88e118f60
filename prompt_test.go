package agentsync

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() RenderRequest {
	return RenderRequest{
		Agent: Agent{ID: "reviewer", Name: "Code Reviewer", Prompt: "Review carefully."},
		Query: "is this safe?",
		Resources: []ResourceContent{
			{URL: "https://example.com/glossary", Content: "terms"},
			{URL: "https://example.com/old", Content: "old terms", Stale: true, Error: "timeout: x"},
			{URL: "https://example.com/down", Error: "network: refused"},
		},
		Summary: Summary{Total: 3, Loaded: 1, Stale: 1, Failed: 1, Tokens: 4},
	}
}

func TestPromptTemplate_DefaultLayout(t *testing.T) {
	t.Parallel()
	p, err := NewPromptTemplate(DefaultLayout, nil)
	require.NoError(t, err)
	got, err := p.Execute(sampleRequest())
	require.NoError(t, err)
	want := "# Code Reviewer\n\nReview carefully.\n" +
		"\n## https://example.com/glossary\n\nterms\n" +
		"\n## https://example.com/old (stale)\n\nold terms\n" +
		"\n## https://example.com/down (unavailable: network: refused)\n" +
		"\n## Query\n\nis this safe?\n" +
		"\n-- 1 loaded, 1 stale, 1 failed, ~4 tokens\n"
	assert.Equal(t, want, got)
}

func TestPromptTemplate_NoQueryNoResources(t *testing.T) {
	t.Parallel()
	p, err := NewPromptTemplate(DefaultLayout, nil)
	require.NoError(t, err)
	got, err := p.Execute(RenderRequest{Agent: Agent{Name: "A", Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, "# A\n\np\n\n-- 0 loaded, 0 stale, 0 failed, ~0 tokens\n", got)
}

func TestPromptTemplate_Truncate(t *testing.T) {
	t.Parallel()
	p, err := NewPromptTemplate(`{{ truncate_chars .Agent.Prompt 3 }}|{{ truncate_tokens .Query 2 }}`, &CharFallbackCounter{CharsPerToken: 4})
	require.NoError(t, err)
	got, err := p.Execute(RenderRequest{Agent: Agent{Prompt: "привет"}, Query: "abcdefghijkl"})
	require.NoError(t, err)
	assert.Equal(t, "при|abcdefgh", got)
}

func TestPromptTemplate_Errors(t *testing.T) {
	t.Parallel()
	_, err := NewPromptTemplate(`{{ .Agent.Name `, nil)
	require.ErrorIs(t, err, ErrTemplateParse)

	p, err := NewPromptTemplate(`{{ .Agent.Missing }}`, nil)
	require.NoError(t, err)
	_, err = p.Execute(RenderRequest{})
	require.ErrorIs(t, err, ErrTemplateRender)
}

func TestPromptTemplate_Renderer(t *testing.T) {
	t.Parallel()
	p, err := NewPromptTemplate(`{{ .Agent.ID }}:{{ .Query }}`, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	r := p.Renderer(&buf)
	require.NoError(t, r.Render(context.Background(), RenderRequest{Agent: Agent{ID: "a"}, Query: "q"}))
	assert.Equal(t, "a:q", buf.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(r.Render(ctx, RenderRequest{}), context.Canceled))
}

func TestTruncateChars(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     string
	}{
		{"empty", "", 5, ""},
		{"ASCII under limit", "hello", 10, "hello"},
		{"ASCII exact", "hello", 5, "hello"},
		{"ASCII over", "hello world", 5, "hello"},
		{"Unicode", "привет", 3, "при"},
		{"zero limit", "hello", 0, ""},
		{"negative limit", "hello", -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, truncateChars(tt.text, tt.maxChars))
		})
	}
}

type failingCounter struct{}

func (failingCounter) Count(string) (int, error) { return 0, errors.New("tokenizer down") }

func TestTruncateTokens(t *testing.T) {
	t.Parallel()
	fn := makeTruncateTokens(&CharFallbackCounter{CharsPerToken: 4})
	tests := []struct {
		name      string
		text      string
		maxTokens int
		want      string
	}{
		{"empty", "", 5, ""},
		{"under limit", "hello", 10, "hello"},
		{"exact", "abcdefgh", 2, "abcdefgh"},
		{"over limit", "abcdefghijkl", 2, "abcdefgh"},
		{"zero max", "hello", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := fn(tt.text, tt.maxTokens)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := makeTruncateTokens(failingCounter{})("abc", 1)
	require.Error(t, err)
}
