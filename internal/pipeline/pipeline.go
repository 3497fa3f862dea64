package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"applyforge/internal/ai"
	"applyforge/internal/config"
	"applyforge/internal/errors"
	"applyforge/internal/extract"
	"applyforge/internal/observability"
	"applyforge/internal/parse"
	"applyforge/internal/types"
)

// Stage is the pipeline's externally observable position. Stages are
// observational only: they feed logs, spans, and status endpoints, and
// never gate execution.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageExtracting    Stage = "extracting"
	StageAwaitingInput Stage = "awaiting_input"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// StageRunning is the stage reported while the given task is in flight.
func StageRunning(task types.TaskKind) Stage {
	return Stage("running:" + string(task))
}

// TaskService runs one generation task end to end: prompt construction
// plus a single provider call. *ai.Service satisfies it.
type TaskService interface {
	Task() types.TaskKind
	Generate(ctx context.Context, resumeText, jobDescription string) (string, *ai.TokenUsage, error)
}

// Services groups the four per-task services in execution order.
type Services struct {
	Analysis    TaskService
	Customize   TaskService
	Changes     TaskService
	CoverLetter TaskService
}

// taskCell resolves a task's service once and caches the outcome for
// the process lifetime, including a construction failure such as a
// missing credential.
type taskCell struct {
	task    types.TaskKind
	build   func() (TaskService, error)
	once    sync.Once
	service TaskService
	err     error
}

func (c *taskCell) resolve() (TaskService, error) {
	c.once.Do(func() {
		c.service, c.err = c.build()
	})
	return c.service, c.err
}

func prebuiltCell(task types.TaskKind, service TaskService) *taskCell {
	return &taskCell{
		task:  task,
		build: func() (TaskService, error) { return service, nil },
	}
}

// Runner orchestrates the generation tasks for one process. Task
// execution within an invocation is strictly sequential; overlapping
// invocations race only on the mutex-guarded result slot, where the
// last writer wins.
type Runner struct {
	analysis    *taskCell
	customize   *taskCell
	changes     *taskCell
	coverLetter *taskCell

	extractor     *extract.Extractor
	logger        *errors.Logger
	observability *observability.ObservabilityManager

	mu     sync.Mutex
	stage  Stage
	latest *types.PipelineResult
}

// NewRunner wires pre-built task services. Callers that manage service
// construction themselves (and tests) use this constructor.
func NewRunner(services Services, extractor *extract.Extractor, logger *errors.Logger, om *observability.ObservabilityManager) *Runner {
	return &Runner{
		analysis:      prebuiltCell(types.TaskAnalysis, services.Analysis),
		customize:     prebuiltCell(types.TaskCustomize, services.Customize),
		changes:       prebuiltCell(types.TaskChanges, services.Changes),
		coverLetter:   prebuiltCell(types.TaskCoverLetter, services.CoverLetter),
		extractor:     extractor,
		logger:        logger,
		observability: om,
		stage:         StageIdle,
	}
}

// NewRunnerFromConfig derives each task's service from cfg on first
// use. The credential check happens once per task and its outcome is
// cached for the process lifetime, so a missing API key surfaces as a
// contained task failure rather than a construction error.
func NewRunnerFromConfig(cfg *config.Config, logger *errors.Logger, om *observability.ObservabilityManager) *Runner {
	buildCell := func(task types.TaskKind, operationConfig config.OperationAIConfig) *taskCell {
		return &taskCell{
			task: task,
			build: func() (TaskService, error) {
				return ai.NewService(&operationConfig, string(task), logger)
			},
		}
	}

	return &Runner{
		analysis:      buildCell(types.TaskAnalysis, cfg.GetAnalysisConfig()),
		customize:     buildCell(types.TaskCustomize, cfg.GetCustomizeConfig()),
		changes:       buildCell(types.TaskChanges, cfg.GetChangesConfig()),
		coverLetter:   buildCell(types.TaskCoverLetter, cfg.GetCoverLetterConfig()),
		extractor:     extract.NewExtractor(cfg.Extractor, logger),
		logger:        logger,
		observability: om,
		stage:         StageIdle,
	}
}

// Stage returns the pipeline's current stage.
func (r *Runner) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Latest returns the last stored result, or nil before the first
// completed invocation. Callers must treat the result as read-only.
func (r *Runner) Latest() *types.PipelineResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// ExtractDocument decodes doc through the extractor and advances the
// stage machine. A failure discards the document and returns the
// machine to StageIdle so a new upload can begin.
func (r *Runner) ExtractDocument(ctx context.Context, doc extract.Document) (types.TextExtraction, error) {
	if r.extractor == nil {
		return types.TextExtraction{}, errors.NewInternalError(errors.ErrCodeInvalidConfig,
			"No document extractor configured", nil)
	}

	r.setStage(StageExtracting)
	extraction, err := r.extractor.ExtractText(ctx, doc)
	if err != nil {
		r.setStage(StageIdle)
		r.recordBusinessMetric(ctx, "document_extracted", false,
			attribute.String("error", err.Error()))
		return types.TextExtraction{}, err
	}

	r.setStage(StageAwaitingInput)
	r.recordBusinessMetric(ctx, "document_extracted", true,
		attribute.Int("pages", extraction.PageCount),
		attribute.Int("text_length", len(extraction.Text)))
	return extraction, nil
}

// RunFullAnalysis runs the mandatory analysis task and, when the
// trimmed job description is non-empty, the customize, changes, and
// cover letter tasks in that order, each awaited before the next.
//
// Task failures are contained at the task boundary: a failed analysis
// falls back to the default sections, failed customize/changes leave
// their fields absent, and a failed cover letter is replaced by an
// inline notice embedding the cause. The call itself errors only when
// the resume text is missing.
func (r *Runner) RunFullAnalysis(ctx context.Context, resumeText, jobDescription string) (*types.PipelineResult, error) {
	if strings.TrimSpace(resumeText) == "" {
		r.setStage(StageFailed)
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed,
			"Resume text is required", nil)
	}

	result := &types.PipelineResult{}

	r.setStage(StageRunning(types.TaskAnalysis))
	raw, err := r.runTask(ctx, r.analysis, resumeText, jobDescription)
	if err != nil {
		r.logger.LogError(err, "Analysis task failed, falling back to default sections",
			"task", string(types.TaskAnalysis))
		result.SetAnalysis(parse.DefaultAnalysisSections())
	} else {
		sections, ok := parse.Analysis(raw)
		if !ok {
			r.logger.Warn("Analysis response was not parseable, falling back to default sections",
				"error_code", errors.ErrCodeMalformedResponse,
				"response_length", len(raw))
		}
		result.SetAnalysis(sections)
	}

	if strings.TrimSpace(jobDescription) != "" {
		r.setStage(StageRunning(types.TaskCustomize))
		if raw, err := r.runTask(ctx, r.customize, resumeText, jobDescription); err != nil {
			r.logger.LogError(err, "Resume customization failed, leaving field absent",
				"task", string(types.TaskCustomize))
		} else if text, ok := parse.FreeText(raw); ok {
			result.CustomizedResume = text
		}

		r.setStage(StageRunning(types.TaskChanges))
		if raw, err := r.runTask(ctx, r.changes, resumeText, jobDescription); err != nil {
			r.logger.LogError(err, "Specific changes generation failed, leaving field absent",
				"task", string(types.TaskChanges))
		} else if text, ok := parse.FreeText(raw); ok {
			result.SpecificChanges = text
		}

		r.setStage(StageRunning(types.TaskCoverLetter))
		if raw, err := r.runTask(ctx, r.coverLetter, resumeText, jobDescription); err != nil {
			r.logger.LogError(err, "Cover letter generation failed, reporting inline",
				"task", string(types.TaskCoverLetter))
			result.CoverLetter = coverLetterFailureMessage(err)
		} else if text, ok := parse.FreeText(raw); ok {
			result.CoverLetter = text
		}
	}

	r.setStage(StageDone)
	r.store(result)
	r.recordBusinessMetric(ctx, "pipeline_run", true,
		attribute.Bool("job_description_present", strings.TrimSpace(jobDescription) != ""),
		attribute.Bool("customized_resume_present", result.CustomizedResume != ""),
		attribute.Bool("cover_letter_present", result.CoverLetter != ""))
	return result, nil
}

// RunCoverLetterOnly regenerates just the cover letter and merges it
// into a copy of previous (a zero-value result when previous is nil),
// leaving every other field untouched. Both inputs are validated before
// any service is touched.
func (r *Runner) RunCoverLetterOnly(ctx context.Context, resumeText, jobDescription string, previous *types.PipelineResult) (*types.PipelineResult, error) {
	if strings.TrimSpace(resumeText) == "" || strings.TrimSpace(jobDescription) == "" {
		r.setStage(StageFailed)
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed,
			"Resume text and job description are both required for cover letter generation", nil)
	}

	result := previous.Clone()

	r.setStage(StageRunning(types.TaskCoverLetter))
	raw, err := r.runTask(ctx, r.coverLetter, resumeText, jobDescription)
	if err != nil {
		r.logger.LogError(err, "Cover letter generation failed, reporting inline",
			"task", string(types.TaskCoverLetter))
		result.CoverLetter = coverLetterFailureMessage(err)
	} else if text, ok := parse.FreeText(raw); ok {
		result.CoverLetter = text
	}

	r.setStage(StageDone)
	r.store(result)
	r.recordBusinessMetric(ctx, "cover_letter_generated", err == nil,
		attribute.Int("letter_length", len(result.CoverLetter)))
	return result, nil
}

// runTask resolves the task's service and executes one generation call,
// wrapped in AI-operation tracking when observability is configured.
func (r *Runner) runTask(ctx context.Context, cell *taskCell, resumeText, jobDescription string) (string, error) {
	service, err := cell.resolve()
	if err != nil {
		return "", err
	}

	if r.observability == nil {
		out, _, genErr := service.Generate(ctx, resumeText, jobDescription)
		return out, genErr
	}

	metrics := r.observability.GetMetrics()
	var out string
	trackErr := metrics.TrackAIOperationWithTokens(ctx, string(cell.task), func(ctx context.Context) *observability.AIOperationResult {
		text, tokenUsage, genErr := service.Generate(ctx, resumeText, jobDescription)
		out = text
		return &observability.AIOperationResult{
			Error:      genErr,
			TokenUsage: (*observability.TokenUsage)(tokenUsage),
		}
	}, r.observability)
	return out, trackErr
}

func (r *Runner) setStage(stage Stage) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
	r.logger.Debug("Pipeline stage changed", "stage", string(stage))
}

// store overwrites the shared result slot. Every completed invocation
// writes unconditionally; when invocations overlap, the last writer
// wins.
func (r *Runner) store(result *types.PipelineResult) {
	r.mu.Lock()
	r.latest = result
	r.mu.Unlock()
}

func (r *Runner) recordBusinessMetric(ctx context.Context, metricType string, success bool, attrs ...attribute.KeyValue) {
	if r.observability == nil {
		return
	}
	metrics := r.observability.GetMetrics()
	metrics.RecordBusinessMetric(ctx, metricType, success, r.observability, attrs...)
}

// coverLetterFailureMessage converts a cover letter failure into the
// inline notice shown through the same rendering path as a successful
// letter, so the reader sees why the letter is missing.
func coverLetterFailureMessage(err error) string {
	return fmt.Sprintf("We couldn't generate your cover letter: %v. Please try again.", err)
}
