package cli

import (
	"context"

	"applyforge/internal/config"
	"applyforge/internal/errors"

	"github.com/spf13/cobra"
)

// ctxKey keys the dependencies Execute seeds into the command context.
type ctxKey struct{ name string }

var (
	configKey = ctxKey{"config"}
	loggerKey = ctxKey{"logger"}
)

var rootCmd = &cobra.Command{
	Use:   "applyforge",
	Short: "A CLI tool for turning a resume into application artifacts using AI",
	Long: `ApplyForge turns a resume and a job description into application
artifacts using AI: a strengths/improvements/tailoring analysis, a customized
resume, a list of specific changes, and a cover letter. Resumes can be provided
as plain text or as PDF documents, which are extracted first.`,
}

// Execute seeds the loaded config and logger into the command context and
// dispatches to the subcommands.
func Execute(ctx context.Context, cfg *config.Config, logger *errors.Logger) error {
	ctx = context.WithValue(ctx, configKey, cfg)
	ctx = context.WithValue(ctx, loggerKey, logger)
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

// configFromContext returns the config seeded by Execute. Subcommands only
// run through Execute, so a missing value is a programming error.
func configFromContext(ctx context.Context) *config.Config {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok {
		panic("cli: config missing from command context")
	}
	return cfg
}

func loggerFromContext(ctx context.Context) *errors.Logger {
	logger, ok := ctx.Value(loggerKey).(*errors.Logger)
	if !ok {
		panic("cli: logger missing from command context")
	}
	return logger
}

func init() {
	rootCmd.AddCommand(analyzeCmd, coverLetterCmd, extractCmd, exportCmd, versionCmd, serveCmd)
}
