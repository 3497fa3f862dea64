package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyforge/internal/errors"
)

func TestFileProcessorReadFile(t *testing.T) {
	fp := NewFileProcessor(nil)
	dir := t.TempDir()

	path := filepath.Join(dir, "resume.txt")
	require.NoError(t, os.WriteFile(path, []byte("resume body"), 0600))

	t.Run("returns content", func(t *testing.T) {
		content, err := fp.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "resume body", content)
	})

	t.Run("missing file carries FILE_NOT_FOUND", func(t *testing.T) {
		_, err := fp.ReadFile(filepath.Join(dir, "missing.txt"))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeFileNotFound))
	})
}

func TestFileProcessorReadFileBytes(t *testing.T) {
	fp := NewFileProcessor(nil)
	dir := t.TempDir()

	path := filepath.Join(dir, "resume.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0600))

	t.Run("returns raw bytes", func(t *testing.T) {
		data, err := fp.ReadFileBytes(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4"), data)
	})

	t.Run("empty path fails validation", func(t *testing.T) {
		_, err := fp.ReadFileBytes("")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInputFile))
	})
}

func TestFileProcessorWriteFile(t *testing.T) {
	fp := NewFileProcessor(nil)

	target := filepath.Join(t.TempDir(), "out", "nested", "resume.json")
	require.NoError(t, fp.WriteFile(target, `{"ok":true}`))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data), "parent directories should be created on demand")
}

func TestFileProcessorValidateAndReadFiles(t *testing.T) {
	fp := NewFileProcessor(nil)
	dir := t.TempDir()

	first := filepath.Join(dir, "resume.txt")
	second := filepath.Join(dir, "job.md")
	require.NoError(t, os.WriteFile(first, []byte("resume"), 0600))
	require.NoError(t, os.WriteFile(second, []byte("job"), 0600))

	t.Run("returns contents in argument order", func(t *testing.T) {
		contents, err := fp.ValidateAndReadFiles(first, second)
		require.NoError(t, err)
		assert.Equal(t, []string{"resume", "job"}, contents)
	})

	t.Run("one bad path fails the whole batch", func(t *testing.T) {
		_, err := fp.ValidateAndReadFiles(first, filepath.Join(dir, "missing.txt"))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInputFile))
	})
}

func TestFileProcessorValidateOutputFile(t *testing.T) {
	fp := NewFileProcessor(nil)

	assert.NoError(t, fp.ValidateOutputFile(""), "empty output path means stdout")
	assert.NoError(t, fp.ValidateOutputFile(filepath.Join(t.TempDir(), "sub", "out.json")))
}
