package resource

import (
	"testing"

	"github.com/skosovsky/agentsync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		typ         agentsync.ResourceType
		body        string
		contentType string
		want        string
		wantErr     bool
	}{
		{"api declared json", agentsync.ResourceAPI, `{"a":1}`, "application/json", "{\n  \"a\": 1\n}", false},
		{"api sniffed json", agentsync.ResourceAPI, ` [1] `, "text/plain", "[\n  1\n]", false},
		{"api plain text", agentsync.ResourceAPI, "status: ok", "text/plain", "status: ok", false},
		{"api broken declared json", agentsync.ResourceAPI, `{"a":`, "application/json", `{"a":`, true},
		{"api broken sniffed json", agentsync.ResourceAPI, `{not json`, "", `{not json`, false},
		{"url json", agentsync.ResourceURL, `{"b":true}`, "application/problem+json", "{\n  \"b\": true\n}", false},
		{"url html not sniffed", agentsync.ResourceURL, `[link]`, "text/html", `[link]`, false},
		{"file markdown", agentsync.ResourceFile, "# Title\n", "text/markdown", "# Title\n", false},
		{"file json kept raw", agentsync.ResourceFile, `{"a":1}`, "application/json", `{"a":1}`, false},
		{"file invalid utf8", agentsync.ResourceFile, "ok\xff", "text/plain", "ok\uFFFD", true},
		{"unknown type", agentsync.ResourceType("ftp"), "raw", "", "raw", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalize(tt.typ, []byte(tt.body), tt.contentType)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()
	h := requestHeaders(agentsync.Resource{Type: agentsync.ResourceFile})
	assert.Equal(t, map[string]string{"Accept": acceptHeaders[agentsync.ResourceFile]}, h)

	h = requestHeaders(agentsync.Resource{Type: agentsync.ResourceType("other")})
	assert.Equal(t, "*/*", h["Accept"])

	h = requestHeaders(agentsync.Resource{
		Type:    agentsync.ResourceAPI,
		Headers: map[string]string{"ACCEPT": "application/xml", "Authorization": "Bearer t"},
	})
	assert.Equal(t, map[string]string{"ACCEPT": "application/xml", "Authorization": "Bearer t"}, h)
}
