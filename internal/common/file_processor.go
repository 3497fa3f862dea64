package common

import (
	"fmt"
	"os"
	"path/filepath"

	"applyforge/internal/errors"
	"applyforge/internal/utils"
)

// FileProcessor wraps file IO with application error codes and routes
// non-fatal warnings through the structured logger.
type FileProcessor struct {
	logger *errors.Logger
}

// NewFileProcessor builds a FileProcessor. A nil logger is replaced with
// a discard logger.
func NewFileProcessor(logger *errors.Logger) *FileProcessor {
	if logger == nil {
		logger = errors.Discard()
	}
	return &FileProcessor{logger: logger}
}

// ReadFile returns the content of filename as a string.
func (fp *FileProcessor) ReadFile(filename string) (string, error) {
	content, err := readMapped(filename)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// ReadFileBytes returns raw file content for binary documents such as
// PDFs, after validating the path.
func (fp *FileProcessor) ReadFileBytes(filename string) ([]byte, error) {
	if err := utils.ValidateInputFile(filename); err != nil {
		return nil, invalidInput(filename, err)
	}
	return readMapped(filename)
}

// readMapped reads a file and maps OS errors onto application error
// codes.
func readMapped(filename string) ([]byte, error) {
	content, err := os.ReadFile(filename)
	switch {
	case os.IsNotExist(err):
		return nil, errors.NewIOError(errors.ErrCodeFileNotFound,
			"file not found: "+filename, err)
	case err != nil:
		return nil, errors.NewIOError(errors.ErrCodeFileNotReadable,
			"cannot read file: "+filename, err)
	}
	return content, nil
}

func invalidInput(filename string, err error) error {
	return errors.NewValidationError(errors.ErrCodeInvalidInputFile,
		fmt.Sprintf("invalid input file %q", filename), err)
}

// WriteFile writes content to filename, creating parent directories as
// needed.
func (fp *FileProcessor) WriteFile(filename, content string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.NewIOError(errors.ErrCodeDirCreateFailed,
				"cannot create directory: "+dir, err)
		}
	}

	if err := os.WriteFile(filename, []byte(content), 0600); err != nil {
		return errors.NewIOError(errors.ErrCodeFileWriteFailed,
			"cannot write file: "+filename, err)
	}
	return nil
}

// ValidateAndReadFiles validates each input path and returns the file
// contents in the same order. A non-text extension only produces a
// warning; the file is read regardless.
func (fp *FileProcessor) ValidateAndReadFiles(filenames ...string) ([]string, error) {
	contents := make([]string, len(filenames))
	for i, filename := range filenames {
		if err := utils.ValidateInputFile(filename); err != nil {
			return nil, invalidInput(filename, err)
		}
		if !utils.IsTextFile(filename) {
			fp.logger.Warn("File may not be a text file", "filename", filename)
		}

		content, err := fp.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		contents[i] = content
	}
	return contents, nil
}

// ValidateOutputFile checks an output path before the pipeline runs. An
// empty path means stdout.
func (fp *FileProcessor) ValidateOutputFile(filename string) error {
	if filename == "" {
		return nil
	}
	if err := utils.ValidateOutputFile(filename); err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidOutputFile,
			fmt.Sprintf("invalid output file %q", filename), err)
	}
	return nil
}
