package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOutputFormat(t *testing.T) {
	formats := []string{"json", "text", "markdown"}

	tests := []struct {
		name    string
		format  string
		allowed []string
		wantErr string
	}{
		{name: "listed format passes", format: "json", allowed: formats},
		{name: "last listed format passes", format: "markdown", allowed: formats},
		{
			name:    "unlisted format fails",
			format:  "xml",
			allowed: formats,
			wantErr: "unsupported output format 'xml'. Supported formats: [json text markdown]",
		},
		{
			name:    "matching is case sensitive",
			format:  "JSON",
			allowed: formats,
			wantErr: "unsupported output format 'JSON'. Supported formats: [json text markdown]",
		},
		{
			name:    "empty format fails against a non-empty list",
			format:  "",
			allowed: formats,
			wantErr: "unsupported output format ''. Supported formats: [json text markdown]",
		},
		{name: "empty list allows anything", format: "xml", allowed: nil},
		{
			name:    "single entry list",
			format:  "text",
			allowed: []string{"json"},
			wantErr: "unsupported output format 'text'. Supported formats: [json]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputFormat(tt.format, tt.allowed)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

// The format check runs on every command invocation, so keep an eye on it.
func BenchmarkValidateOutputFormat(b *testing.B) {
	formats := []string{"json", "text", "markdown"}

	b.Run("listed", func(b *testing.B) {
		for b.Loop() {
			_ = ValidateOutputFormat("json", formats)
		}
	})

	b.Run("unlisted", func(b *testing.B) {
		for b.Loop() {
			_ = ValidateOutputFormat("xml", formats)
		}
	})
}
