package cli

import (
	"context"
	"fmt"

	"applyforge/internal/common"
	"applyforge/internal/extract"
	"applyforge/internal/pipeline"
	"applyforge/internal/types"
	"applyforge/internal/utils"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [resume-file] [job-description-file]",
	Short: "Analyze a resume and generate application artifacts",
	Long: `Analyze a resume against a job description and generate the full set
of application artifacts: strengths, improvements and tailoring advice, a
customized resume, a list of specific changes, and a cover letter.

The resume file may be plain text or a PDF document; PDFs are extracted before
analysis. When the job description is omitted (and --job-description is not
set), only the resume analysis runs and no artifacts are generated.`,
	Args: cobra.RangeArgs(1, 2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromContext(cmd.Context())
		// Apply default format if not specified
		if analyzeConfig.OutputFormat == "" {
			analyzeConfig.OutputFormat = cfg.App.DefaultFormat
		}
		// Validate format against supported formats
		return common.ValidateOutputFormat(analyzeConfig.OutputFormat, cfg.App.SupportedFormats)
	},
	RunE: runAnalyze,
}

var analyzeConfig common.CommandConfig
var analyzeJobDescription string

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeConfig.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	analyzeCmd.Flags().StringVar(&analyzeConfig.OutputFormat, "format", "", "Output format: json, text, or markdown")
	analyzeCmd.Flags().StringVar(&analyzeJobDescription, "job-description", "", "Job description as an inline string instead of a file")

	// Shell completion offers the configured formats.
	_ = analyzeCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg := configFromContext(cmd.Context())
		return cfg.App.SupportedFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

type analyzeInput struct {
	resumeText     string
	jobDescription string
}

// readResumeArg loads resume text from a plain text file, or extracts it when
// the argument points at a PDF document.
func readResumeArg(ctx context.Context, fp *common.FileProcessor, runner *pipeline.Runner, filename string) (string, error) {
	if utils.IsPDFFile(filename) {
		data, err := fp.ReadFileBytes(filename)
		if err != nil {
			return "", err
		}
		extraction, err := runner.ExtractDocument(ctx, extract.Document{
			Data:        data,
			ContentType: "application/pdf",
			Filename:    filename,
			Size:        int64(len(data)),
		})
		if err != nil {
			return "", err
		}
		return extraction.Text, nil
	}

	contents, err := fp.ValidateAndReadFiles(filename)
	if err != nil {
		return "", err
	}
	return contents[0], nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := configFromContext(cmd.Context())
	logger := loggerFromContext(cmd.Context())

	runner := pipeline.NewRunnerFromConfig(cfg, logger, nil)

	resolveInput := func(ctx context.Context, fp *common.FileProcessor, args []string) (analyzeInput, error) {
		resumeText, err := readResumeArg(ctx, fp, runner, args[0])
		if err != nil {
			return analyzeInput{}, err
		}

		jobDescription := analyzeJobDescription
		if len(args) == 2 {
			contents, err := fp.ValidateAndReadFiles(args[1])
			if err != nil {
				return analyzeInput{}, err
			}
			jobDescription = contents[0]
		}

		return analyzeInput{
			resumeText:     resumeText,
			jobDescription: jobDescription,
		}, nil
	}

	logDetails := func(input analyzeInput, cfg common.CommandConfig) {
		logger.Info("Starting resume analysis",
			"resume_chars", len(input.resumeText),
			"job_chars", len(input.jobDescription),
			"output_format", cfg.OutputFormat)
	}

	// Create a wrapper function that runs the full pipeline
	analyzeOperation := func(ctx context.Context, input analyzeInput) (*types.PipelineResult, error) {
		return runner.RunFullAnalysis(ctx, input.resumeText, input.jobDescription)
	}

	err := common.RunPipelineCommand(
		cmd.Context(),
		logger,
		analyzeConfig,
		args,
		resolveInput,
		analyzeOperation,
		logDetails,
	)

	if err != nil {
		return fmt.Errorf("failed to analyze resume: %w", err)
	}
	logger.Info("Resume analysis completed successfully")
	return nil
}
