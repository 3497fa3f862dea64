package ai

import (
	"fmt"
	"strings"
)

// SystemPrompts contains all system-level instructions for AI interactions
type SystemPrompts struct {
	Analysis    string
	Customize   string
	Changes     string
	CoverLetter string
}

// ForTask returns the system instruction for the given task type.
func (p SystemPrompts) ForTask(task string) string {
	switch task {
	case "analysis":
		return p.Analysis
	case "customize":
		return p.Customize
	case "changes":
		return p.Changes
	case "coverletter":
		return p.CoverLetter
	default:
		return ""
	}
}

// UserPrompts contains user-level prompt templates with placeholders for dynamic content
type UserPrompts struct {
	Analysis    string
	Customize   string
	Changes     string
	CoverLetter string
}

// ForTask returns the user prompt template for the given task type.
func (p UserPrompts) ForTask(task string) string {
	switch task {
	case "analysis":
		return p.Analysis
	case "customize":
		return p.Customize
	case "changes":
		return p.Changes
	case "coverletter":
		return p.CoverLetter
	default:
		return ""
	}
}

// DefaultSystemPrompts provides the default system instructions
var DefaultSystemPrompts = SystemPrompts{
	Analysis: `You are an expert resume reviewer and career analyst with a strict commitment to honesty and accuracy. Your core principles are:

- Ground every observation in the resume text you are given
- NEVER invent experience, skills, or qualifications
- Keep feedback specific and actionable
- When asked for JSON, return JSON and nothing else

Your expertise includes:
- Resume assessment and positioning
- Matching candidate experience to job requirements
- Hiring practices and industry standards`,

	Customize: `You are an expert resume writer with a strict commitment to honesty and accuracy. Your core principles are:

- NEVER invent, exaggerate, or misattribute any skills or experiences
- Every piece of information must be directly traceable to the source resume
- Preserve the candidate's real history while optimizing for relevance
- Write the way people actually speak: natural, direct, active`,

	Changes: `You are an expert resume editor focused on precise, high-impact edits. Your role is to:

- Propose concrete rewrites, not general advice
- Quote the current resume text exactly as it appears
- Keep each suggestion independent and self-contained
- Follow the requested output layout exactly`,

	CoverLetter: `You are an expert cover letter writer. Your core principles are:

- Draw every claim from the candidate's resume, never invent experience
- Write in the candidate's voice: confident, specific, human
- Follow the requested layout exactly, with no placeholder text`,
}

// DefaultUserPrompts provides the default user prompt templates
var DefaultUserPrompts = UserPrompts{
	Analysis: `Analyze the resume below and respond with a single JSON object.

**Output contract (follow exactly):**
- Return strict JSON only: no prose, no markdown, no code fences.
- The object must contain exactly these keys: "strengths", "improvements", "tailoring".
- Each key maps to an array of strings.
- "strengths": what already works well in this resume.
- "improvements": concrete changes that would make the resume stronger.
- "tailoring": how to better align the resume with the target role.

**Resume:**
-----
%s
-----`,

	Customize: `Rewrite the resume below so it is tailored to the job description.

**Requirements:**
- Keep the resume's existing structure and format: same sections, same ordering, same layout conventions.
- Emphasize the experience and skills most relevant to the job description, using only material present in the original resume.
- Use a natural, spoken-friendly tone and active voice throughout.
- Return the rewritten resume text only, with no commentary and no notes about what you changed.

**Resume:**
-----
%s
-----

**Job Description:**
-----
%s
-----`,

	Changes: `Compare the resume below against the job description and list the specific edits that would align it with the role.

**Output format (follow exactly):**
- One record per suggested change, records separated by a blank line.
- Each record is exactly three lines:
SECTION: <name of the resume section>
CURRENT: <the current text, quoted from the resume>
CHANGE TO: <the replacement text>
- Do not suggest changes to education sections.
- Return the records only: no introduction, no summary, no extra commentary.

**Resume:**
-----
%s
-----

**Job Description:**
-----
%s
-----`,

	CoverLetter: `Write a cover letter for the candidate below, applying to the role described in the job description.

**Layout (follow exactly, in this order):**
1. Header: the candidate's name on one line, their professional title on the next.
2. Contact block in two columns: email and phone on the left, location and profile links on the right.
3. A horizontal divider line.
4. A short letter title naming the role.
5. A date line formatted exactly as: Date: <Month Day, Year> (for example: Date: January 5, 2025).
6. The salutation: Dear Hiring Manager,
7. Four to five body paragraphs: why this role, what the candidate brings, evidence from their experience, and a closing note of interest.
8. A closing such as "Sincerely," followed by the candidate's name.

**Rules:**
- Extract the candidate's name, title, and contact details from the resume text itself.
- Never emit placeholders like [Your Name] or [Address]; if a detail is absent from the resume, leave it out.
- Return the letter text only, no commentary.

**Resume:**
-----
%s
-----

**Job Description:**
-----
%s
-----`,
}

// analysisJobContext is appended to the analysis prompt when a job description
// is present; the analysis task is the only one that runs without one.
const analysisJobContext = `

**Job Description:**
-----
%s
-----`

// BuildAnalysisPrompt renders the analysis instruction for the given resume
// text. The job description block is appended only when the trimmed job
// description is non-empty.
func BuildAnalysisPrompt(resumeText, jobDescription string) string {
	return buildAnalysisPromptFrom(DefaultUserPrompts.Analysis, resumeText, jobDescription)
}

// BuildCustomizationPrompt renders the resume customization instruction.
// Panics if the job description trims to empty.
func BuildCustomizationPrompt(resumeText, jobDescription string) string {
	return buildCustomizationPromptFrom(DefaultUserPrompts.Customize, resumeText, jobDescription)
}

// BuildSpecificChangesPrompt renders the specific-changes instruction.
// Panics if the job description trims to empty.
func BuildSpecificChangesPrompt(resumeText, jobDescription string) string {
	return buildSpecificChangesPromptFrom(DefaultUserPrompts.Changes, resumeText, jobDescription)
}

// BuildCoverLetterPrompt renders the cover letter instruction.
// Panics if the job description trims to empty.
func BuildCoverLetterPrompt(resumeText, jobDescription string) string {
	return buildCoverLetterPromptFrom(DefaultUserPrompts.CoverLetter, resumeText, jobDescription)
}

func buildAnalysisPromptFrom(template, resumeText, jobDescription string) string {
	prompt := fmt.Sprintf(template, resumeText)
	if strings.TrimSpace(jobDescription) != "" {
		prompt += fmt.Sprintf(analysisJobContext, jobDescription)
	}
	return prompt
}

func buildCustomizationPromptFrom(template, resumeText, jobDescription string) string {
	requireJobDescription("BuildCustomizationPrompt", jobDescription)
	return fmt.Sprintf(template, resumeText, jobDescription)
}

func buildSpecificChangesPromptFrom(template, resumeText, jobDescription string) string {
	requireJobDescription("BuildSpecificChangesPrompt", jobDescription)
	return fmt.Sprintf(template, resumeText, jobDescription)
}

func buildCoverLetterPromptFrom(template, resumeText, jobDescription string) string {
	requireJobDescription("BuildCoverLetterPrompt", jobDescription)
	return fmt.Sprintf(template, resumeText, jobDescription)
}

// requireJobDescription guards the builders whose prompts are meaningless
// without a job description. An empty value here is a programming error in the
// caller, not a runtime failure path.
func requireJobDescription(builder, jobDescription string) {
	if strings.TrimSpace(jobDescription) == "" {
		panic(builder + " called with an empty job description")
	}
}
