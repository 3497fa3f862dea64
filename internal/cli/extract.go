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

var extractCmd = &cobra.Command{
	Use:   "extract [document-file]",
	Short: "Extract normalized text from a PDF document",
	Long: `Extract the text content of a PDF document without running any AI
tasks. The document is validated and decoded page by page; the text format
prints the normalized text itself, while json and markdown produce a report
with page count and document size.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromContext(cmd.Context())
		// Apply default format if not specified
		if extractConfig.OutputFormat == "" {
			extractConfig.OutputFormat = cfg.App.DefaultFormat
		}
		// Validate format against supported formats
		return common.ValidateOutputFormat(extractConfig.OutputFormat, cfg.App.SupportedFormats)
	},
	RunE: runExtract,
}

var extractConfig common.CommandConfig

func init() {
	extractCmd.Flags().StringVarP(&extractConfig.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().StringVar(&extractConfig.OutputFormat, "format", "", "Output format: json, text, or markdown")

	// Shell completion offers the configured formats.
	_ = extractCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg := configFromContext(cmd.Context())
		return cfg.App.SupportedFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg := configFromContext(cmd.Context())
	logger := loggerFromContext(cmd.Context())

	runner := pipeline.NewRunnerFromConfig(cfg, logger, nil)

	resolveInput := func(ctx context.Context, fp *common.FileProcessor, args []string) (extract.Document, error) {
		data, err := fp.ReadFileBytes(args[0])
		if err != nil {
			return extract.Document{}, err
		}
		return extract.Document{
			Data:        data,
			ContentType: "application/pdf",
			Filename:    args[0],
			Size:        int64(len(data)),
		}, nil
	}

	logDetails := func(doc extract.Document, cfg common.CommandConfig) {
		logger.Info("Starting document extraction",
			"filename", doc.Filename,
			"document_size", utils.FormatFileSize(doc.Size),
			"output_format", cfg.OutputFormat)
	}

	// Create a wrapper function that runs the extraction stage only
	extractOperation := func(ctx context.Context, doc extract.Document) (types.TextExtraction, error) {
		return runner.ExtractDocument(ctx, doc)
	}

	err := common.RunPipelineCommand(
		cmd.Context(),
		logger,
		extractConfig,
		args,
		resolveInput,
		extractOperation,
		logDetails,
	)

	if err != nil {
		return fmt.Errorf("failed to extract document: %w", err)
	}
	logger.Info("Document extraction completed successfully")
	return nil
}
