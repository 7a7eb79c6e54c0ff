package llmprovider

// ModelInfo describes one model ForModel can route a request to.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// KnownModels lists the models this gateway recognizes by the ForModel
// prefix match, surfaced by the models.list gateway method.
func KnownModels() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-opus-4-5", Provider: "anthropic"},
		{ID: "claude-sonnet-4-5", Provider: "anthropic"},
		{ID: "claude-haiku-4-5", Provider: "anthropic"},
		{ID: "gpt-4o", Provider: "openai"},
		{ID: "gpt-4o-mini", Provider: "openai"},
		{ID: "o3-mini", Provider: "openai"},
		{ID: "gemini-2.5-pro", Provider: "google"},
		{ID: "gemini-2.5-flash", Provider: "google"},
	}
}
