package config

// Config is the top-level application configuration.
type Config struct {
	Agent       AgentConfig     `mapstructure:"agent"`
	LLM         LLMConfig       `mapstructure:"llm"`
	FallbackLLM LLMConfig       `mapstructure:"fallback_llm"`
	SummaryLLM  SummaryConfig   `mapstructure:"summary_llm"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
	Voice       VoiceConfig     `mapstructure:"voice"`
	Memory      MemoryConfig    `mapstructure:"memory"`
	Channels    ChannelsConfig  `mapstructure:"channels"`
	Security    SecurityConfig  `mapstructure:"security"`
	Usage       UsageConfig     `mapstructure:"usage"`
	Debug       bool            `mapstructure:"debug"`
}

type AgentConfig struct {
	SystemPrompt string  `mapstructure:"system_prompt"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
}

type LLMConfig struct {
	Provider    string `mapstructure:"provider"`
	Model       string `mapstructure:"model"`
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	MaxRetries  int    `mapstructure:"max_retries"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// Enabled reports whether the section names a provider.
func (c LLMConfig) Enabled() bool {
	return c.Provider != ""
}

// SummaryConfig tunes the digest completions. An empty model reuses the main LLM.
type SummaryConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// VoiceConfig enables transcription of Telegram voice messages. An empty
// API key reuses the main LLM's key and base URL when the providers match.
type VoiceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// Eviction policies.
const (
	EvictIngest    = "ingest"
	EvictSummarize = "summarize"
)

type MemoryConfig struct {
	MaxHistoryLength  int    `mapstructure:"max_history_length"`
	EvictionPolicy    string `mapstructure:"eviction_policy"`
	ChunkSize         int    `mapstructure:"chunk_size"`
	ChunkOverlap      int    `mapstructure:"chunk_overlap"`
	TopK              int    `mapstructure:"top_k"`
	IngestConcurrency int    `mapstructure:"ingest_concurrency"`
	DataDir           string `mapstructure:"data_dir"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Token      string  `mapstructure:"token"`
	AllowedIDs []int64 `mapstructure:"allowed_ids"`
}

type SecurityConfig struct {
	UseKeyring bool `mapstructure:"use_keyring"`
	// RedactPII names the filters applied to player messages: email, phone, card, ip.
	RedactPII []string `mapstructure:"redact_pii"`
}

type UsageConfig struct {
	RequestLimit int `mapstructure:"request_limit"`
}
