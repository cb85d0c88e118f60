package resource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/skosovsky/agentsync"
)

var errInvalidUTF8 = errors.New("body is not valid UTF-8")

// normalizer turns a response body into text. It always returns usable text; a non-nil error
// means the text is a best-effort conversion.
type normalizer func(body []byte, contentType string) (string, error)

var normalizers = map[agentsync.ResourceType]normalizer{
	agentsync.ResourceAPI:  formatStructured(true),
	agentsync.ResourceURL:  formatStructured(false),
	agentsync.ResourceFile: passThrough,
}

var acceptHeaders = map[agentsync.ResourceType]string{
	agentsync.ResourceAPI:  "application/json, application/xml;q=0.9, text/plain;q=0.8",
	agentsync.ResourceFile: "text/plain, text/html;q=0.9, text/markdown;q=0.9",
	agentsync.ResourceURL:  "*/*",
}

// normalize applies the strategy for t, falling back to pass-through for unknown types.
func normalize(t agentsync.ResourceType, body []byte, contentType string) (string, error) {
	n, ok := normalizers[t]
	if !ok {
		n = passThrough
	}
	return n(body, contentType)
}

func passThrough(body []byte, _ string) (string, error) {
	if !utf8.Valid(body) {
		return strings.ToValidUTF8(string(body), "\uFFFD"), errInvalidUTF8
	}
	return string(body), nil
}

// formatStructured indents JSON bodies. sniff also treats bodies that look like JSON as JSON
// when the server did not declare a JSON content type.
func formatStructured(sniff bool) normalizer {
	return func(body []byte, contentType string) (string, error) {
		declared := strings.Contains(contentType, "json")
		if !declared && !(sniff && looksJSON(body)) {
			return passThrough(body, contentType)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, bytes.TrimSpace(body), "", "  "); err != nil {
			text, _ := passThrough(body, contentType)
			if !declared {
				return text, nil
			}
			return text, fmt.Errorf("format json: %w", err)
		}
		return buf.String(), nil
	}
}

func looksJSON(body []byte) bool {
	b := bytes.TrimSpace(body)
	return len(b) > 0 && (b[0] == '{' || b[0] == '[')
}

// requestHeaders returns the type-appropriate Accept header merged with the resource's own
// headers; resource headers win on collision (case-insensitive).
func requestHeaders(r agentsync.Resource) map[string]string {
	accept, ok := acceptHeaders[r.Type]
	if !ok {
		accept = "*/*"
	}
	out := map[string]string{"Accept": accept}
	for k, v := range r.Headers {
		if strings.EqualFold(k, "Accept") {
			delete(out, "Accept")
		}
		out[k] = v
	}
	return out
}
