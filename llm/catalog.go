package llm

// DefaultContextWindow is used for token accounting when a model is not in
// the catalog.
const DefaultContextWindow = 1_000_000

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The first entry per provider is its
// default.
var Models = []ModelInfo{
	// Groq
	{ID: "llama3-8b-8192", Provider: "groq", DisplayName: "Llama 3 8B", ContextWindow: 8192, Aliases: []string{"llama3-8b"}},
	{ID: "llama3-70b-8192", Provider: "groq", DisplayName: "Llama 3 70B", ContextWindow: 8192, Aliases: []string{"llama3-70b"}},
	{ID: "llama-3.1-8b-instant", Provider: "groq", DisplayName: "Llama 3.1 8B Instant", ContextWindow: 131072},
	{ID: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B Versatile", ContextWindow: 131072},
	{ID: "mixtral-8x7b-32768", Provider: "groq", DisplayName: "Mixtral 8x7B", ContextWindow: 32768, Aliases: []string{"mixtral"}},
	{ID: "gemma2-9b-it", Provider: "groq", DisplayName: "Gemma 2 9B", ContextWindow: 8192},

	// OpenAI
	{ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini", ContextWindow: 128000},
	{ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o", ContextWindow: 128000},

	// Anthropic
	{ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5", ContextWindow: 200000, Aliases: []string{"sonnet"}},

	// Ollama
	{ID: "llama3", Provider: "ollama", DisplayName: "Llama 3 (local)", ContextWindow: 8192},
}

// GetModelInfo returns the catalog entry for a model ID or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the default model for a provider, or nil.
func DefaultModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// ContextWindow returns the context window size for a model, falling back to
// DefaultContextWindow.
func ContextWindow(modelID string) int {
	if info := GetModelInfo(modelID); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return DefaultContextWindow
}
