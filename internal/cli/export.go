package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"applyforge/internal/common"
	"applyforge/internal/types"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [result-file]",
	Short: "Export artifacts from an analyze result to files",
	Long: `Export the customized resume and cover letter from a saved analyze
result (JSON) into the target directory. Artifacts are written as
customized-resume.txt and cover-letter.txt; fields absent from the result are
skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var exportDir string

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "Directory to write the artifacts into")
}

func runExport(cmd *cobra.Command, args []string) error {
	logger := loggerFromContext(cmd.Context())

	fileProcessor := common.NewFileProcessor(logger)

	raw, err := fileProcessor.ReadFile(args[0])
	if err != nil {
		return err
	}

	var result types.PipelineResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fmt.Errorf("failed to parse result file %s: %w", args[0], err)
	}

	written := 0

	if result.CustomizedResume != "" {
		path := filepath.Join(exportDir, "customized-resume.txt")
		if err := fileProcessor.WriteFile(path, result.CustomizedResume); err != nil {
			return err
		}
		logger.Info("Artifact exported", "file", path)
		written++
	}

	if result.CoverLetter != "" {
		path := filepath.Join(exportDir, "cover-letter.txt")
		if err := fileProcessor.WriteFile(path, result.CoverLetter); err != nil {
			return err
		}
		logger.Info("Artifact exported", "file", path)
		written++
	}

	if written == 0 {
		logger.Warn("Result contains no exportable artifacts", "file", args[0])
	}

	return nil
}
