package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// promptFileBinding ties a configured prompt file path to the slot the
// loaded content lands in.
type promptFileBinding struct {
	file      string
	target    *string
	operation string
}

// promptBindingGroup collects the bindings of one configuration block: the
// global block or one task block.
type promptBindingGroup struct {
	name   string
	system []promptFileBinding
	user   []promptFileBinding
}

func systemPromptBindings(src *SystemPrompts, dst *LoadedSystemPrompts) []promptFileBinding {
	return []promptFileBinding{
		{src.AnalysisFile, &dst.Analysis, "analysis"},
		{src.CustomizeFile, &dst.Customize, "customize"},
		{src.ChangesFile, &dst.Changes, "changes"},
		{src.CoverLetterFile, &dst.CoverLetter, "coverletter"},
	}
}

func userPromptBindings(src *UserPrompts, dst *LoadedUserPrompts) []promptFileBinding {
	return []promptFileBinding{
		{src.AnalysisFile, &dst.Analysis, "analysis"},
		{src.CustomizeFile, &dst.Customize, "customize"},
		{src.ChangesFile, &dst.Changes, "changes"},
		{src.CoverLetterFile, &dst.CoverLetter, "coverletter"},
	}
}

// promptBindingGroups enumerates every place a custom prompt file can be
// configured. The config paths stay untouched; loaded content lands in the
// package-level store that GetPromptsForOperation reads.
func (c *Config) promptBindingGroups() []promptBindingGroup {
	return []promptBindingGroup{
		{
			name:   "global",
			system: systemPromptBindings(&c.AI.CustomPrompts.SystemPrompts, &loadedPrompts.Global.SystemPrompts),
			user:   userPromptBindings(&c.AI.CustomPrompts.UserPrompts, &loadedPrompts.Global.UserPrompts),
		},
		{
			name:   "analysis",
			system: systemPromptBindings(&c.AI.Analysis.CustomPrompts.SystemPrompts, &loadedPrompts.Analysis.SystemPrompts),
			user:   userPromptBindings(&c.AI.Analysis.CustomPrompts.UserPrompts, &loadedPrompts.Analysis.UserPrompts),
		},
		{
			name:   "customize",
			system: systemPromptBindings(&c.AI.Customize.CustomPrompts.SystemPrompts, &loadedPrompts.Customize.SystemPrompts),
			user:   userPromptBindings(&c.AI.Customize.CustomPrompts.UserPrompts, &loadedPrompts.Customize.UserPrompts),
		},
		{
			name:   "changes",
			system: systemPromptBindings(&c.AI.Changes.CustomPrompts.SystemPrompts, &loadedPrompts.Changes.SystemPrompts),
			user:   userPromptBindings(&c.AI.Changes.CustomPrompts.UserPrompts, &loadedPrompts.Changes.UserPrompts),
		},
		{
			name:   "cover letter",
			system: systemPromptBindings(&c.AI.CoverLetter.CustomPrompts.SystemPrompts, &loadedPrompts.CoverLetter.SystemPrompts),
			user:   userPromptBindings(&c.AI.CoverLetter.CustomPrompts.UserPrompts, &loadedPrompts.CoverLetter.UserPrompts),
		},
	}
}

// loadPromptsFromFiles reads every configured prompt file into the loaded
// prompt store. Slots without a configured file keep whatever they held,
// so built-in defaults apply downstream.
func (c *Config) loadPromptsFromFiles() error {
	for _, group := range c.promptBindingGroups() {
		if err := loadPromptFiles("system", group.system); err != nil {
			return fmt.Errorf("failed to load %s system prompts: %w", group.name, err)
		}
		if err := loadPromptFiles("user", group.user); err != nil {
			return fmt.Errorf("failed to load %s user prompts: %w", group.name, err)
		}
	}

	c.logPromptLoadingSummary()

	return nil
}

func loadPromptFiles(kind string, bindings []promptFileBinding) error {
	for _, b := range bindings {
		if b.file == "" {
			continue
		}

		content, err := loadPromptFromFile(b.file, kind, b.operation)
		if err != nil {
			return err
		}
		*b.target = content
	}

	return nil
}

// loadPromptFromFile reads one prompt file, requiring non-empty content.
func loadPromptFromFile(path, kind, operation string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %s %s prompt file '%s': %w", kind, operation, path, err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s %s prompt file not found: %s", kind, operation, absPath)
		}
		return "", fmt.Errorf("failed to read %s %s prompt file '%s': %w", kind, operation, absPath, err)
	}

	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return "", fmt.Errorf("%s %s prompt file '%s' is empty", kind, operation, absPath)
	}

	configLogf("Loaded %s %s prompt from file: %s (%d characters)",
		kind, operation, absPath, len(trimmed))

	return trimmed, nil
}

// validatePromptFiles checks every configured prompt file before any
// content is loaded, reporting all problems at once.
func (c *Config) validatePromptFiles() error {
	var problems []string

	check := func(label string, bindings []promptFileBinding) {
		for _, b := range bindings {
			if b.file == "" {
				continue
			}

			absPath, err := filepath.Abs(b.file)
			if err != nil {
				problems = append(problems, fmt.Sprintf("invalid path for %s %s prompt: %s", label, b.operation, b.file))
				continue
			}
			if _, err := os.Stat(absPath); os.IsNotExist(err) {
				problems = append(problems, fmt.Sprintf("%s %s prompt file not found: %s", label, b.operation, absPath))
			}
		}
	}

	for _, group := range c.promptBindingGroups() {
		systemLabel, userLabel := "system", "user"
		if group.name != "global" {
			systemLabel = group.name + " system"
			userLabel = group.name + " user"
		}
		check(systemLabel, group.system)
		check(userLabel, group.user)
	}

	if len(problems) > 0 {
		return fmt.Errorf("prompt file validation failed:\n%s", strings.Join(problems, "\n"))
	}

	return nil
}

// logPromptLoadingSummary is part of the gated configuration trace.
func (c *Config) logPromptLoadingSummary() {
	if !configDebug() {
		return
	}

	log.Println("[CONFIG] === Custom Prompt Loading Summary ===")

	count := 0
	for _, group := range c.promptBindingGroups() {
		for _, set := range []struct {
			kind     string
			bindings []promptFileBinding
		}{{"system", group.system}, {"user", group.user}} {
			for _, b := range set.bindings {
				if *b.target != "" {
					log.Printf("[CONFIG] %s %s %s prompt: loaded", group.name, set.kind, b.operation)
					count++
				}
			}
		}
	}

	if count == 0 {
		log.Println("[CONFIG] No custom prompts loaded - using built-in defaults")
	} else {
		log.Printf("[CONFIG] Total custom prompts loaded: %d", count)
	}
	log.Println("[CONFIG] ==========================================")
}
