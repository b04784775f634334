package config

// modelPreset describes the default model stack for a provider.
type modelPreset struct {
	Model           string
	ScannerModel    string
	ExtractionModel string
	EmbeddingModel  string
}

var modelPresets = map[ProviderType]modelPreset{
	ProviderAnthropic: {
		Model:           "claude-sonnet-4-5-20250929",
		ScannerModel:    "claude-haiku-4-5-20251001",
		ExtractionModel: "claude-sonnet-4-5-20250929",
		EmbeddingModel:  "text-embedding-3-small",
	},
	ProviderOpenAI: {
		Model:           "gpt-4o",
		ScannerModel:    "gpt-4o-mini",
		ExtractionModel: "gpt-4o",
		EmbeddingModel:  "text-embedding-3-small",
	},
	ProviderOllama: {
		Model:           "llama3",
		ScannerModel:    "llama3",
		ExtractionModel: "llama3",
		EmbeddingModel:  "nomic-embed-text",
	},
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	preset := modelPresets[ProviderAnthropic]
	return &Config{
		Provider:          ProviderAnthropic,
		Model:             preset.Model,
		ScannerModel:      preset.ScannerModel,
		ExtractionModel:   preset.ExtractionModel,
		EmbeddingProvider: ProviderOpenAI,
		EmbeddingModel:    preset.EmbeddingModel,
		DataDir:           "data",
		Port:              8080,
		SessionTTLMinutes: 60,
		SweepIntervalMin:  5,
		RequestsPerMinute: 60,
	}
}

// GetPreset returns the default model stack for a provider, falling back to
// the Anthropic preset for unknown providers.
func GetPreset(provider ProviderType) modelPreset {
	if p, ok := modelPresets[provider]; ok {
		return p
	}
	return modelPresets[ProviderAnthropic]
}
