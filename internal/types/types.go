package types

// TaskKind identifies one of the four generation tasks the pipeline runs.
type TaskKind string

const (
	TaskAnalysis    TaskKind = "analysis"
	TaskCustomize   TaskKind = "customize"
	TaskChanges     TaskKind = "changes"
	TaskCoverLetter TaskKind = "coverletter"
)

// AllTasks lists every task kind in pipeline execution order.
var AllTasks = []TaskKind{TaskAnalysis, TaskCustomize, TaskChanges, TaskCoverLetter}

// AnalysisSections holds the three mandatory analysis fields. All slices are
// non-nil after parsing; a failed or unparseable analysis yields the fixed
// default values instead of empty slices.
type AnalysisSections struct {
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Tailoring    []string `json:"tailoring"`
}

// PipelineResult is the aggregate object handed to presenters. The three
// analysis slices are always present; the artifact strings are present only
// when their task succeeded with non-empty trimmed output.
type PipelineResult struct {
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	Tailoring        []string `json:"tailoring"`
	CustomizedResume string   `json:"customizedResume,omitempty"`
	SpecificChanges  string   `json:"specificChanges,omitempty"`
	CoverLetter      string   `json:"coverLetter,omitempty"`
}

// Clone returns a deep copy so a later invocation can patch fields without
// mutating a result already handed out.
func (r *PipelineResult) Clone() *PipelineResult {
	if r == nil {
		return &PipelineResult{}
	}
	out := &PipelineResult{
		CustomizedResume: r.CustomizedResume,
		SpecificChanges:  r.SpecificChanges,
		CoverLetter:      r.CoverLetter,
	}
	out.Strengths = append([]string{}, r.Strengths...)
	out.Improvements = append([]string{}, r.Improvements...)
	out.Tailoring = append([]string{}, r.Tailoring...)
	return out
}

// SetAnalysis copies the three mandatory fields from sections.
func (r *PipelineResult) SetAnalysis(s AnalysisSections) {
	r.Strengths = s.Strengths
	r.Improvements = s.Improvements
	r.Tailoring = s.Tailoring
}

// TextExtraction is the result of decoding a source document.
type TextExtraction struct {
	Text      string `json:"text"`
	PageCount int    `json:"pageCount"`
	Bytes     int64  `json:"bytes"`
}

// ChangeRecord is one parsed SECTION/CURRENT/CHANGE TO edit suggestion.
// Produced by the tolerant presenter-side splitter; rendering only.
type ChangeRecord struct {
	Section  string `json:"section"`
	Current  string `json:"current"`
	ChangeTo string `json:"changeTo"`
}

// AnalyzeRequest is the HTTP body for a full pipeline run.
type AnalyzeRequest struct {
	ResumeText     string `json:"resumeText"`
	JobDescription string `json:"jobDescription"`
}

// CoverLetterRequest is the HTTP body for a cover-letter-only run.
type CoverLetterRequest struct {
	ResumeText     string          `json:"resumeText"`
	JobDescription string          `json:"jobDescription"`
	PreviousResult *PipelineResult `json:"previousResult,omitempty"`
}
