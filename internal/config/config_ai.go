package config

// applyOperationDefaults fills unset task fields from the global AI block.
// Pointer fields distinguish "not configured" from an explicit zero.
func (c *Config) applyOperationDefaults(opCfg *OperationAIConfig) {
	if opCfg.Provider == "" {
		opCfg.Provider = c.AI.Provider
	}
	if opCfg.Model == "" {
		opCfg.Model = c.AI.Model
	}
	if opCfg.Timeout == nil {
		opCfg.Timeout = &c.AI.Timeout
	}
	if opCfg.APIKey == "" {
		opCfg.APIKey = c.AI.APIKey
	}
	if opCfg.MaxRetries == nil {
		opCfg.MaxRetries = &c.AI.MaxRetries
	}
	if opCfg.Temperature == nil {
		opCfg.Temperature = &c.AI.Temperature
	}
	if opCfg.UseSystemPrompts == nil {
		opCfg.UseSystemPrompts = &c.AI.UseSystemPrompts
	}
}

// fallbackPrompt copies src into dst when dst is unset.
func fallbackPrompt(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

// GetAnalysisConfig returns the effective AI configuration for the
// analysis task: the task block with global fallbacks applied. The
// receiver is not modified.
func (c *Config) GetAnalysisConfig() OperationAIConfig {
	cfg := c.AI.Analysis
	c.applyOperationDefaults(&cfg)

	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.Analysis, c.AI.CustomPrompts.SystemPrompts.Analysis)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.Analysis, c.AI.CustomPrompts.UserPrompts.Analysis)
	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.AnalysisFile, c.AI.CustomPrompts.SystemPrompts.AnalysisFile)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.AnalysisFile, c.AI.CustomPrompts.UserPrompts.AnalysisFile)

	return cfg
}

// GetCustomizeConfig returns the effective AI configuration for the resume
// customization task.
func (c *Config) GetCustomizeConfig() OperationAIConfig {
	cfg := c.AI.Customize
	c.applyOperationDefaults(&cfg)

	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.Customize, c.AI.CustomPrompts.SystemPrompts.Customize)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.Customize, c.AI.CustomPrompts.UserPrompts.Customize)
	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.CustomizeFile, c.AI.CustomPrompts.SystemPrompts.CustomizeFile)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.CustomizeFile, c.AI.CustomPrompts.UserPrompts.CustomizeFile)

	return cfg
}

// GetChangesConfig returns the effective AI configuration for the
// specific-changes task.
func (c *Config) GetChangesConfig() OperationAIConfig {
	cfg := c.AI.Changes
	c.applyOperationDefaults(&cfg)

	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.Changes, c.AI.CustomPrompts.SystemPrompts.Changes)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.Changes, c.AI.CustomPrompts.UserPrompts.Changes)
	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.ChangesFile, c.AI.CustomPrompts.SystemPrompts.ChangesFile)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.ChangesFile, c.AI.CustomPrompts.UserPrompts.ChangesFile)

	return cfg
}

// GetCoverLetterConfig returns the effective AI configuration for the
// cover letter task.
func (c *Config) GetCoverLetterConfig() OperationAIConfig {
	cfg := c.AI.CoverLetter
	c.applyOperationDefaults(&cfg)

	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.CoverLetter, c.AI.CustomPrompts.SystemPrompts.CoverLetter)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.CoverLetter, c.AI.CustomPrompts.UserPrompts.CoverLetter)
	fallbackPrompt(&cfg.CustomPrompts.SystemPrompts.CoverLetterFile, c.AI.CustomPrompts.SystemPrompts.CoverLetterFile)
	fallbackPrompt(&cfg.CustomPrompts.UserPrompts.CoverLetterFile, c.AI.CustomPrompts.UserPrompts.CoverLetterFile)

	return cfg
}
