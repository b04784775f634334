// Package config loads, validates, and persists the mediloop configuration.
package config

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderOllama    ProviderType = "ollama"
)

// Config is the top-level mediloop configuration, corresponding to
// mediloop.yml.
type Config struct {
	Provider ProviderType `yaml:"provider" koanf:"provider"`

	// Model drives live consultation turns; ScannerModel and
	// ExtractionModel default to cheaper tiers since their outputs are
	// either a tiny JSON verdict or offline documents.
	Model           string `yaml:"model" koanf:"model"`
	ScannerModel    string `yaml:"scanner_model" koanf:"scanner_model"`
	ExtractionModel string `yaml:"extraction_model" koanf:"extraction_model"`

	EmbeddingProvider ProviderType `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string       `yaml:"embedding_model" koanf:"embedding_model"`

	DataDir string `yaml:"data_dir" koanf:"data_dir"`
	Port    int    `yaml:"port" koanf:"port"`

	// SessionTTLMinutes bounds how long an idle engine stays resident.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" koanf:"session_ttl_minutes"`
	SweepIntervalMin  int `yaml:"sweep_interval_minutes" koanf:"sweep_interval_minutes"`
	RequestsPerMinute int `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}
