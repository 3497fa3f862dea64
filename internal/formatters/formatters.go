// Package formatters renders pipeline results and extraction reports as
// JSON, plain text, or Markdown for the CLI output path.
package formatters

import (
	"encoding/json"
	"fmt"
	"strings"

	"applyforge/internal/parse"
	"applyforge/internal/types"
)

// Format renders data in the named output format. JSON accepts any value;
// text and markdown renderings exist for pipeline results and extraction
// reports. Pointer and value forms of both types are accepted.
func Format(data any, format string) (string, error) {
	if format == "json" {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	switch v := data.(type) {
	case *types.PipelineResult:
		if v != nil {
			return renderPipeline(v, format)
		}
	case types.PipelineResult:
		return renderPipeline(&v, format)
	case *types.TextExtraction:
		if v != nil {
			return renderExtraction(v, format)
		}
	case types.TextExtraction:
		return renderExtraction(&v, format)
	}
	return "", fmt.Errorf("cannot render %T as %s", data, format)
}

func renderPipeline(result *types.PipelineResult, format string) (string, error) {
	switch format {
	case "text":
		return pipelineText(result), nil
	case "markdown":
		return pipelineMarkdown(result), nil
	}
	return "", fmt.Errorf("unsupported output format %q", format)
}

func renderExtraction(result *types.TextExtraction, format string) (string, error) {
	switch format {
	case "text":
		// The raw normalized text, ready for piping into other tools.
		return result.Text + "\n", nil
	case "markdown":
		return extractionMarkdown(result), nil
	}
	return "", fmt.Errorf("unsupported output format %q", format)
}

// writeBullets writes a heading followed by one dashed line per item and a
// trailing blank line.
func writeBullets(b *strings.Builder, heading string, items []string) {
	b.WriteString(heading)
	b.WriteByte('\n')
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteByte('\n')
}

func pipelineText(result *types.PipelineResult) string {
	var b strings.Builder

	b.WriteString("=== RESUME ANALYSIS ===\n\n")
	writeBullets(&b, "Strengths:", result.Strengths)
	writeBullets(&b, "Improvements:", result.Improvements)
	writeBullets(&b, "Tailoring Advice:", result.Tailoring)

	if result.CustomizedResume != "" {
		b.WriteString("=== CUSTOMIZED RESUME ===\n\n")
		b.WriteString(result.CustomizedResume)
		b.WriteString("\n\n")
	}

	if result.SpecificChanges != "" {
		b.WriteString("=== SPECIFIC CHANGES ===\n\n")
		if records := parse.Changes(result.SpecificChanges); len(records) > 0 {
			for i, record := range records {
				fmt.Fprintf(&b, "%d. %s\n", i+1, record.Section)
				fmt.Fprintf(&b, "   Current: %s\n", record.Current)
				fmt.Fprintf(&b, "   Change to: %s\n\n", record.ChangeTo)
			}
		} else {
			// Unparseable suggestions are shown verbatim rather than dropped.
			b.WriteString(result.SpecificChanges)
			b.WriteString("\n\n")
		}
	}

	if result.CoverLetter != "" {
		b.WriteString("=== COVER LETTER ===\n\n")
		b.WriteString(result.CoverLetter)
		b.WriteString("\n")
	}

	return b.String()
}

func pipelineMarkdown(result *types.PipelineResult) string {
	var b strings.Builder

	b.WriteString("# Resume Analysis\n\n")
	writeBullets(&b, "## Strengths", result.Strengths)
	writeBullets(&b, "## Improvements", result.Improvements)
	writeBullets(&b, "## Tailoring Advice", result.Tailoring)

	if result.CustomizedResume != "" {
		b.WriteString("## Customized Resume\n\n")
		b.WriteString(result.CustomizedResume)
		b.WriteString("\n\n")
	}

	if result.SpecificChanges != "" {
		b.WriteString("## Specific Changes\n\n")
		if records := parse.Changes(result.SpecificChanges); len(records) > 0 {
			for i, record := range records {
				fmt.Fprintf(&b, "### %d. %s\n\n", i+1, record.Section)
				fmt.Fprintf(&b, "**Current:** %s\n\n", record.Current)
				fmt.Fprintf(&b, "**Change to:** %s\n\n", record.ChangeTo)
			}
		} else {
			b.WriteString(result.SpecificChanges)
			b.WriteString("\n\n")
		}
	}

	if result.CoverLetter != "" {
		b.WriteString("## Cover Letter\n\n")
		b.WriteString(result.CoverLetter)
		b.WriteString("\n")
	}

	return b.String()
}

func extractionMarkdown(result *types.TextExtraction) string {
	var b strings.Builder

	b.WriteString("# Extracted Document\n\n")
	fmt.Fprintf(&b, "**Pages:** %d\n\n", result.PageCount)
	fmt.Fprintf(&b, "**Size:** %d bytes\n\n", result.Bytes)
	b.WriteString("## Text\n\n")
	b.WriteString(result.Text)
	b.WriteByte('\n')

	return b.String()
}
