package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrompt(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadPromptsFromFiles(t *testing.T) {
	dir := t.TempDir()

	systemContent := "Test system prompt for resume customization"
	userContent := "Test user prompt template: %s and %s"

	systemFile := writePrompt(t, dir, "system.customize.md", systemContent)
	userFile := writePrompt(t, dir, "user.customize.md", userContent)

	cfg := &Config{
		AI: AIConfig{
			Customize: OperationAIConfig{
				CustomPrompts: PromptConfig{
					SystemPrompts: SystemPrompts{CustomizeFile: systemFile},
					UserPrompts:   UserPrompts{CustomizeFile: userFile},
				},
			},
		},
	}

	require.NoError(t, cfg.loadPromptsFromFiles())

	loaded := GetPromptsForOperation("customize")
	assert.Equal(t, systemContent, loaded.SystemPrompts.Customize)
	assert.Equal(t, userContent, loaded.UserPrompts.Customize)

	// The config keeps the paths; only the store receives content.
	assert.Equal(t, systemFile, cfg.AI.Customize.CustomPrompts.SystemPrompts.CustomizeFile)
	assert.Equal(t, userFile, cfg.AI.Customize.CustomPrompts.UserPrompts.CustomizeFile)
}

func TestLoadPromptsFromFilesCrossOperation(t *testing.T) {
	// A task block may configure prompts for other operations, e.g. the
	// analysis block carrying a customize prompt file. Those load too.
	dir := t.TempDir()
	content := "Customize instructions configured under the analysis block"
	file := writePrompt(t, dir, "cross.md", content)

	cfg := &Config{
		AI: AIConfig{
			Analysis: OperationAIConfig{
				CustomPrompts: PromptConfig{
					SystemPrompts: SystemPrompts{CustomizeFile: file},
				},
			},
		},
	}

	require.NoError(t, cfg.loadPromptsFromFiles())
	assert.Equal(t, content, GetPromptsForOperation("analysis").SystemPrompts.Customize)
}

func TestValidatePromptFiles(t *testing.T) {
	dir := t.TempDir()

	t.Run("existing file passes", func(t *testing.T) {
		valid := writePrompt(t, dir, "valid.md", "Valid content")
		cfg := &Config{
			AI: AIConfig{
				Customize: OperationAIConfig{
					CustomPrompts: PromptConfig{
						SystemPrompts: SystemPrompts{CustomizeFile: valid},
					},
				},
			},
		}
		assert.NoError(t, cfg.validatePromptFiles())
	})

	t.Run("missing file is reported with its block", func(t *testing.T) {
		cfg := &Config{
			AI: AIConfig{
				Customize: OperationAIConfig{
					CustomPrompts: PromptConfig{
						SystemPrompts: SystemPrompts{CustomizeFile: filepath.Join(dir, "missing.md")},
					},
				},
			},
		}
		err := cfg.validatePromptFiles()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "customize system customize prompt file not found")
	})

	t.Run("all problems are reported at once", func(t *testing.T) {
		cfg := &Config{
			AI: AIConfig{
				CustomPrompts: PromptConfig{
					SystemPrompts: SystemPrompts{
						AnalysisFile: filepath.Join(dir, "a.md"),
						ChangesFile:  filepath.Join(dir, "b.md"),
					},
				},
			},
		}
		err := cfg.validatePromptFiles()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "system analysis prompt file not found")
		assert.Contains(t, err.Error(), "system changes prompt file not found")
	})
}

func TestLoadPromptFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("content is trimmed", func(t *testing.T) {
		file := writePrompt(t, dir, "ok.md", "  Test prompt content \n")
		content, err := loadPromptFromFile(file, "system", "customize")
		require.NoError(t, err)
		assert.Equal(t, "Test prompt content", content)
	})

	t.Run("blank file is rejected", func(t *testing.T) {
		file := writePrompt(t, dir, "empty.md", "   \n\t\n")
		_, err := loadPromptFromFile(file, "system", "customize")
		assert.ErrorContains(t, err, "is empty")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadPromptFromFile(filepath.Join(dir, "missing.md"), "user", "analysis")
		assert.ErrorContains(t, err, "user analysis prompt file not found")
	})
}

func TestPromptFileIntegration(t *testing.T) {
	dir := t.TempDir()

	systemPrompt := "Custom system prompt for testing"
	userPrompt := "Custom user prompt: %s %s"

	systemFile := writePrompt(t, dir, "system.md", systemPrompt)
	userFile := writePrompt(t, dir, "user.md", userPrompt)

	cfg := &Config{
		AI: AIConfig{
			Provider:    "gemini",
			Model:       "test-model",
			Timeout:     60 * time.Second,
			APIKey:      "test-key",
			Temperature: 0.7,
			Customize: OperationAIConfig{
				CustomPrompts: PromptConfig{
					SystemPrompts: SystemPrompts{CustomizeFile: systemFile},
					UserPrompts:   UserPrompts{CustomizeFile: userFile},
				},
			},
		},
		Extractor: ExtractorConfig{
			MaxDocumentSize: 5 * 1024 * 1024,
			ValidationMode:  "relaxed",
		},
		App: AppConfig{
			LogLevel:         "info",
			DefaultFormat:    "json",
			SupportedFormats: []string{"json", "text", "markdown"},
			MaxFileSize:      1024 * 1024,
		},
		Server: ServerConfig{Host: "localhost", Port: "8080"},
	}

	// The same sequence LoadConfig runs after unmarshal.
	cfg.applyFallbacks()
	require.NoError(t, cfg.validatePromptFiles())
	require.NoError(t, cfg.loadPromptsFromFiles())

	loaded := GetPromptsForOperation("customize")
	assert.Equal(t, systemPrompt, loaded.SystemPrompts.Customize)
	assert.Equal(t, userPrompt, loaded.UserPrompts.Customize)

	assert.Equal(t, systemFile, cfg.AI.Customize.CustomPrompts.SystemPrompts.CustomizeFile)
	assert.Equal(t, userFile, cfg.AI.Customize.CustomPrompts.UserPrompts.CustomizeFile)
}
