package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInputFile(t *testing.T) {
	dir := t.TempDir()

	existing := filepath.Join(dir, "resume.txt")
	require.NoError(t, os.WriteFile(existing, []byte("content"), 0600))

	t.Run("existing file passes", func(t *testing.T) {
		assert.NoError(t, ValidateInputFile(existing))
	})

	t.Run("empty name", func(t *testing.T) {
		assert.EqualError(t, ValidateInputFile(""), "filename cannot be empty")
	})

	t.Run("missing file", func(t *testing.T) {
		err := ValidateInputFile(filepath.Join(dir, "nope.txt"))
		assert.ErrorContains(t, err, "file does not exist")
	})

	t.Run("directory instead of file", func(t *testing.T) {
		err := ValidateInputFile(dir)
		assert.ErrorContains(t, err, "path is a directory, not a file")
	})
}

func TestValidateOutputFile(t *testing.T) {
	t.Run("empty name means stdout", func(t *testing.T) {
		assert.NoError(t, ValidateOutputFile(""))
	})

	t.Run("bare name in working directory", func(t *testing.T) {
		assert.NoError(t, ValidateOutputFile("out.json"))
	})

	t.Run("missing parent directories are created", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "a", "b", "out.json")
		require.NoError(t, ValidateOutputFile(target))

		info, err := os.Stat(filepath.Dir(target))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestFileTypeHelpers(t *testing.T) {
	assert.Equal(t, ".pdf", GetFileExtension("Resume.PDF"))
	assert.Equal(t, "", GetFileExtension("README"))

	assert.True(t, IsTextFile("notes.md"))
	assert.True(t, IsTextFile("RESUME.TXT"))
	assert.False(t, IsTextFile("resume.pdf"))

	assert.True(t, IsPDFFile("resume.pdf"))
	assert.True(t, IsPDFFile("RESUME.PDF"))
	assert.False(t, IsPDFFile("resume.txt"))
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3584 * 1024 * 1024, "3.5 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFileSize(tt.size))
	}
}
