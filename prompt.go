package agentsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"text/template"
	"unicode/utf8"
)

// DefaultLayout renders the agent prompt, every resource section and the query as markdown.
const DefaultLayout = `# {{ .Agent.Name }}

{{ .Agent.Prompt }}
{{- range .Resources }}
{{ if and .Error (not .Content) }}
## {{ .URL }} (unavailable: {{ .Error }})
{{- else if .Stale }}
## {{ .URL }} (stale)

{{ .Content }}
{{- else }}
## {{ .URL }}

{{ .Content }}
{{- end }}
{{- end }}
{{- if .Query }}

## Query

{{ .Query }}
{{- end }}

-- {{ .Summary.Loaded }} loaded, {{ .Summary.Stale }} stale, {{ .Summary.Failed }} failed, ~{{ .Summary.Tokens }} tokens
`

// PromptTemplate lays out a RenderRequest as text using text/template.
// Besides the builtins, layouts can call truncate_chars and truncate_tokens.
// Safe for concurrent use.
type PromptTemplate struct {
	tpl *template.Template
}

// NewPromptTemplate parses layout. A nil tc uses CharFallbackCounter for truncate_tokens.
// Returns ErrTemplateParse if layout fails to parse.
func NewPromptTemplate(layout string, tc TokenCounter) (*PromptTemplate, error) {
	tpl, err := template.New("layout").Funcs(layoutFuncs(tc)).Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateParse, err)
	}
	return &PromptTemplate{tpl: tpl}, nil
}

// Execute renders req.
func (p *PromptTemplate) Execute(req RenderRequest) (string, error) {
	var buf bytes.Buffer
	if err := p.tpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// Renderer returns a Renderer that writes each rendered request to w.
func (p *PromptTemplate) Renderer(w io.Writer) Renderer {
	return RendererFunc(func(ctx context.Context, req RenderRequest) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := p.Execute(req)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, text)
		return err
	})
}

func layoutFuncs(tc TokenCounter) template.FuncMap {
	if tc == nil {
		tc = &CharFallbackCounter{}
	}
	return template.FuncMap{
		"truncate_chars":  truncateChars,
		"truncate_tokens": makeTruncateTokens(tc),
	}
}

// truncateChars truncates text to at most maxChars runes.
func truncateChars(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars])
}

// makeTruncateTokens returns a function that truncates text to at most maxTokens as counted by tc.
// The cut point is found by binary search over rune prefixes.
func makeTruncateTokens(tc TokenCounter) func(string, int) (string, error) {
	return func(text string, maxTokens int) (string, error) {
		if maxTokens <= 0 {
			return "", nil
		}
		n, err := tc.Count(text)
		if err != nil {
			return "", err
		}
		if n <= maxTokens {
			return text, nil
		}
		runes := []rune(text)
		lo, hi := 0, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			n, _ = tc.Count(string(runes[:mid]))
			if n <= maxTokens {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		return string(runes[:lo]), nil
	}
}
