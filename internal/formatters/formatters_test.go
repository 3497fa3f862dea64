package formatters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyforge/internal/types"
)

func sampleResult() *types.PipelineResult {
	return &types.PipelineResult{
		Strengths:    []string{"clear impact metrics", "strong Go background"},
		Improvements: []string{"quantify the migration project"},
		Tailoring:    []string{"mirror the posting's platform wording"},
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := Format(sampleResult(), "json")
	require.NoError(t, err)

	assert.Contains(t, out, `"strengths"`)
	assert.Contains(t, out, "clear impact metrics")
	// Optional sections are omitted, not serialized empty.
	assert.NotContains(t, out, "coverLetter")
}

func TestFormatPipelineText(t *testing.T) {
	result := sampleResult()
	result.CustomizedResume = "TAILORED RESUME BODY"
	result.CoverLetter = "Dear Hiring Manager,"

	out, err := Format(result, "text")
	require.NoError(t, err)

	assert.Contains(t, out, "=== RESUME ANALYSIS ===")
	assert.Contains(t, out, "Strengths:\n- clear impact metrics\n")
	assert.Contains(t, out, "Improvements:\n- quantify the migration project\n")
	assert.Contains(t, out, "Tailoring Advice:\n")
	assert.Contains(t, out, "=== CUSTOMIZED RESUME ===\n\nTAILORED RESUME BODY")
	assert.Contains(t, out, "=== COVER LETTER ===\n\nDear Hiring Manager,")
}

func TestFormatPipelineTextChanges(t *testing.T) {
	result := sampleResult()
	result.SpecificChanges = "SECTION: Summary\n" +
		"CURRENT: Generalist engineer\n" +
		"CHANGE TO: Backend engineer focused on Go services\n"

	out, err := Format(result, "text")
	require.NoError(t, err)

	assert.Contains(t, out, "=== SPECIFIC CHANGES ===")
	assert.Contains(t, out, "1. Summary\n")
	assert.Contains(t, out, "   Current: Generalist engineer\n")
	assert.Contains(t, out, "   Change to: Backend engineer focused on Go services\n")
}

// Suggestions that don't follow the SECTION/CURRENT/CHANGE TO shape are
// passed through verbatim.
func TestFormatPipelineTextChangesFallback(t *testing.T) {
	result := sampleResult()
	result.SpecificChanges = "Free-form advice without structure."

	out, err := Format(result, "text")
	require.NoError(t, err)

	assert.Contains(t, out, "=== SPECIFIC CHANGES ===\n\nFree-form advice without structure.")
}

func TestFormatPipelineMarkdown(t *testing.T) {
	result := sampleResult()
	result.SpecificChanges = "SECTION: Skills\n" +
		"CURRENT: Some cloud exposure\n" +
		"CHANGE TO: Production Kubernetes operations\n"
	result.CoverLetter = "Dear Team,"

	// Value form works the same as the pointer form.
	out, err := Format(*result, "markdown")
	require.NoError(t, err)

	assert.Contains(t, out, "# Resume Analysis\n")
	assert.Contains(t, out, "## Strengths\n- clear impact metrics\n")
	assert.Contains(t, out, "### 1. Skills\n")
	assert.Contains(t, out, "**Current:** Some cloud exposure\n")
	assert.Contains(t, out, "**Change to:** Production Kubernetes operations\n")
	assert.Contains(t, out, "## Cover Letter\n\nDear Team,")
}

func TestFormatExtraction(t *testing.T) {
	extraction := types.TextExtraction{
		Text:      "Jane Doe\nStaff Engineer",
		PageCount: 2,
		Bytes:     4096,
	}

	text, err := Format(extraction, "text")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nStaff Engineer\n", text)

	md, err := Format(&extraction, "markdown")
	require.NoError(t, err)
	assert.Contains(t, md, "# Extracted Document\n")
	assert.Contains(t, md, "**Pages:** 2\n")
	assert.Contains(t, md, "**Size:** 4096 bytes\n")
	assert.Contains(t, md, "## Text\n\nJane Doe\nStaff Engineer\n")
}

func TestFormatErrors(t *testing.T) {
	_, err := Format(sampleResult(), "yaml")
	assert.ErrorContains(t, err, `unsupported output format "yaml"`)

	_, err = Format(42, "text")
	assert.ErrorContains(t, err, "cannot render int as text")

	var nilResult *types.PipelineResult
	_, err = Format(nilResult, "text")
	assert.ErrorContains(t, err, "cannot render")
}
