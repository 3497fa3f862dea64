package config

// loadedPrompts is the package-level store for prompt content read from
// files. It is filled once during LoadConfig, before any concurrent
// readers exist.
var loadedPrompts AllLoadedPrompts

// LoadedSystemPrompts contains loaded system-level instructions
type LoadedSystemPrompts struct {
	Analysis    string
	Customize   string
	Changes     string
	CoverLetter string
}

// ForTask returns the loaded system prompt for the given task type.
func (p LoadedSystemPrompts) ForTask(task string) string {
	switch task {
	case "analysis":
		return p.Analysis
	case "customize":
		return p.Customize
	case "changes":
		return p.Changes
	case "coverletter":
		return p.CoverLetter
	default:
		return ""
	}
}

// LoadedUserPrompts contains loaded user-level prompt templates
type LoadedUserPrompts struct {
	Analysis    string
	Customize   string
	Changes     string
	CoverLetter string
}

// ForTask returns the loaded user prompt template for the given task type.
func (p LoadedUserPrompts) ForTask(task string) string {
	switch task {
	case "analysis":
		return p.Analysis
	case "customize":
		return p.Customize
	case "changes":
		return p.Changes
	case "coverletter":
		return p.CoverLetter
	default:
		return ""
	}
}

// OperationLoadedPrompts holds the loaded prompts of one configuration
// block.
type OperationLoadedPrompts struct {
	SystemPrompts LoadedSystemPrompts
	UserPrompts   LoadedUserPrompts
}

// AllLoadedPrompts holds the global block plus one block per task.
type AllLoadedPrompts struct {
	Global      OperationLoadedPrompts
	Analysis    OperationLoadedPrompts
	Customize   OperationLoadedPrompts
	Changes     OperationLoadedPrompts
	CoverLetter OperationLoadedPrompts
}

// GetPromptsForOperation returns a copy of the loaded prompts for a task
// type. Unknown task types get the global block.
func GetPromptsForOperation(operationType string) OperationLoadedPrompts {
	switch operationType {
	case "analysis":
		return loadedPrompts.Analysis
	case "customize":
		return loadedPrompts.Customize
	case "changes":
		return loadedPrompts.Changes
	case "coverletter":
		return loadedPrompts.CoverLetter
	default:
		return loadedPrompts.Global
	}
}
