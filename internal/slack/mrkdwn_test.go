package slack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownToMrkdwn(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold asterisks", "this is **bold** text", "this is *bold* text"},
		{"bold underscores", "this is __bold__ text", "this is *bold* text"},
		{"italic", "this is *italic* text", "this is _italic_ text"},
		{"bold and italic", "**bold** and *italic*", "*bold* and _italic_"},
		{"strikethrough", "~~gone~~", "~gone~"},
		{"link", "see [the docs](https://example.com)", "see <https://example.com|the docs>"},
		{"inline code unchanged", "run `go test` now", "run `go test` now"},
		{"blockquote unchanged", "> quoted line", "> quoted line"},
		{"plain text unchanged", "nothing special here", "nothing special here"},
		{"multiple bold spans", "**a** then **b**", "*a* then *b*"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarkdownToMrkdwn(tt.in))
		})
	}
}
