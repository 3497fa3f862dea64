package common

import (
	"context"

	"applyforge/internal/errors"
)

// ResolveInputFunc builds the pipeline input from the command arguments.
// Implementations read the referenced files (text or PDF) themselves so each
// command controls how its arguments are interpreted.
type ResolveInputFunc[Input any] func(ctx context.Context, fp *FileProcessor, args []string) (Input, error)

// LogDetailsFunc announces the operation once its input is resolved.
type LogDetailsFunc[Input any] func(input Input, cfg CommandConfig)

// PipelineOperationFunc runs the operation itself.
type PipelineOperationFunc[Input, Output any] func(context.Context, Input) (Output, error)

// RunPipelineCommand is the shared skeleton of the file-based commands:
// resolve the input files, log what is about to run, run it, and deliver
// the result through the output handler.
func RunPipelineCommand[Input, Output any](
	ctx context.Context,
	logger *errors.Logger,
	cmdConfig CommandConfig,
	args []string,
	resolveInput ResolveInputFunc[Input],
	operation PipelineOperationFunc[Input, Output],
	logDetails LogDetailsFunc[Input],
) error {
	fileProcessor := NewFileProcessor(logger)
	outputHandler := NewOutputHandler(logger)

	input, err := resolveInput(ctx, fileProcessor, args)
	if err != nil {
		return err
	}

	logDetails(input, cmdConfig)

	result, err := operation(ctx, input)
	if err != nil {
		return err
	}

	return outputHandler.HandleOutput(result, cmdConfig)
}
