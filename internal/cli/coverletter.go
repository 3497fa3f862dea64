package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"applyforge/internal/common"
	"applyforge/internal/pipeline"
	"applyforge/internal/types"

	"github.com/spf13/cobra"
)

var coverLetterCmd = &cobra.Command{
	Use:   "coverletter [resume-file] [job-description-file]",
	Short: "Generate a cover letter for a specific job description",
	Long: `Generate a cover letter from your resume and a job description using AI.
The command takes two arguments: the path to your resume file (plain text or
PDF) and the path to the job description file.

With --previous, the new cover letter is merged into an earlier analyze result
so the other artifacts are carried over unchanged.`,
	Args: cobra.ExactArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromContext(cmd.Context())
		// Apply default format if not specified
		if coverLetterConfig.OutputFormat == "" {
			coverLetterConfig.OutputFormat = cfg.App.DefaultFormat
		}
		// Validate format against supported formats
		return common.ValidateOutputFormat(coverLetterConfig.OutputFormat, cfg.App.SupportedFormats)
	},
	RunE: runCoverLetter,
}

var coverLetterConfig common.CommandConfig
var coverLetterPrevious string

func init() {
	coverLetterCmd.Flags().StringVarP(&coverLetterConfig.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	coverLetterCmd.Flags().StringVar(&coverLetterConfig.OutputFormat, "format", "", "Output format: json, text, or markdown")
	coverLetterCmd.Flags().StringVar(&coverLetterPrevious, "previous", "", "Previous analyze result (JSON file) to merge the cover letter into")

	// Shell completion offers the configured formats.
	_ = coverLetterCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg := configFromContext(cmd.Context())
		return cfg.App.SupportedFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

type coverLetterInput struct {
	resumeText     string
	jobDescription string
	previous       *types.PipelineResult
}

func runCoverLetter(cmd *cobra.Command, args []string) error {
	cfg := configFromContext(cmd.Context())
	logger := loggerFromContext(cmd.Context())

	runner := pipeline.NewRunnerFromConfig(cfg, logger, nil)

	resolveInput := func(ctx context.Context, fp *common.FileProcessor, args []string) (coverLetterInput, error) {
		resumeText, err := readResumeArg(ctx, fp, runner, args[0])
		if err != nil {
			return coverLetterInput{}, err
		}

		contents, err := fp.ValidateAndReadFiles(args[1])
		if err != nil {
			return coverLetterInput{}, err
		}

		var previous *types.PipelineResult
		if coverLetterPrevious != "" {
			raw, err := fp.ReadFile(coverLetterPrevious)
			if err != nil {
				return coverLetterInput{}, err
			}
			previous = &types.PipelineResult{}
			if err := json.Unmarshal([]byte(raw), previous); err != nil {
				return coverLetterInput{}, fmt.Errorf("failed to parse previous result %s: %w", coverLetterPrevious, err)
			}
		}

		return coverLetterInput{
			resumeText:     resumeText,
			jobDescription: contents[0],
			previous:       previous,
		}, nil
	}

	logDetails := func(input coverLetterInput, cfg common.CommandConfig) {
		logger.Info("Starting cover letter generation",
			"resume_chars", len(input.resumeText),
			"job_chars", len(input.jobDescription),
			"has_previous", input.previous != nil,
			"output_format", cfg.OutputFormat)
	}

	// Create a wrapper function that runs the cover-letter-only pipeline
	coverLetterOperation := func(ctx context.Context, input coverLetterInput) (*types.PipelineResult, error) {
		return runner.RunCoverLetterOnly(ctx, input.resumeText, input.jobDescription, input.previous)
	}

	err := common.RunPipelineCommand(
		cmd.Context(),
		logger,
		coverLetterConfig,
		args,
		resolveInput,
		coverLetterOperation,
		logDetails,
	)

	if err != nil {
		return fmt.Errorf("failed to generate cover letter: %w", err)
	}
	logger.Info("Cover letter generation completed successfully")
	return nil
}
