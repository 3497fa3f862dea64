package parse

import (
	"bufio"
	"encoding/json"
	"strings"

	"applyforge/internal/types"
)

// Analysis extracts the resume analysis sections from a raw model response.
//
// The response is expected to carry a single JSON object, possibly surrounded
// by commentary or markdown fences. The substring from the first '{' to the
// last '}' is parsed; unknown keys are ignored and fields that are not arrays
// of strings are coerced to empty arrays. When no object can be parsed at all,
// the fixed default sections are returned and ok is false.
func Analysis(raw string) (types.AnalysisSections, bool) {
	jsonText, found := extractJSONObject(raw)
	if !found {
		return DefaultAnalysisSections(), false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return DefaultAnalysisSections(), false
	}

	return types.AnalysisSections{
		Strengths:    stringSlice(payload["strengths"]),
		Improvements: stringSlice(payload["improvements"]),
		Tailoring:    stringSlice(payload["tailoring"]),
	}, true
}

// DefaultAnalysisSections returns the fallback analysis shown when the model
// response cannot be parsed. The pipeline stays usable either way.
func DefaultAnalysisSections() types.AnalysisSections {
	return types.AnalysisSections{
		Strengths: []string{
			"Your resume shows relevant professional experience.",
			"Your skills section covers the core requirements for this kind of role.",
		},
		Improvements: []string{
			"Add measurable results to your most recent positions.",
			"Tighten the summary so your strongest qualifications come first.",
		},
		Tailoring: []string{
			"Mirror key phrases from the job description in your bullet points.",
			"Reorder your experience so the most relevant work appears first.",
		},
	}
}

// FreeText normalizes a free-form model response. Leading and trailing
// whitespace is removed; a response that is empty after trimming reports
// ok as false so callers can omit the field.
func FreeText(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// Changes splits a specific-changes response into structured records.
//
// Records arrive as three-line groups (SECTION / CURRENT / CHANGE TO). The
// scanner is tolerant: text between records is skipped, and a record is only
// emitted once its CHANGE TO line has been seen. A SECTION line that appears
// before the previous record completed discards the incomplete one.
func Changes(text string) []types.ChangeRecord {
	var records []types.ChangeRecord
	var current *types.ChangeRecord

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "SECTION:"):
			current = &types.ChangeRecord{
				Section: strings.TrimSpace(strings.TrimPrefix(line, "SECTION:")),
			}
		case strings.HasPrefix(line, "CURRENT:"):
			if current != nil {
				current.Current = strings.TrimSpace(strings.TrimPrefix(line, "CURRENT:"))
			}
		case strings.HasPrefix(line, "CHANGE TO:"):
			if current != nil {
				current.ChangeTo = strings.TrimSpace(strings.TrimPrefix(line, "CHANGE TO:"))
				records = append(records, *current)
				current = nil
			}
		}
	}

	return records
}

// extractJSONObject returns the substring spanning the first '{' through the
// last '}' of raw. Models often wrap JSON in prose or markdown fences, so the
// outermost braces are the only reliable markers.
func extractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// stringSlice coerces a decoded JSON value into a string slice. Anything that
// is not an array made up entirely of strings collapses to an empty slice.
func stringSlice(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return []string{}
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return []string{}
		}
		result = append(result, s)
	}
	return result
}
