package config

const defaultSystemPrompt = "You are the Dungeon Master of a tabletop role-playing game. " +
	"Narrate the world, voice its characters and resolve the players' actions fairly. " +
	"Keep answers vivid but concise, stay consistent with what already happened, " +
	"and ask for a dice roll when the outcome of an action is uncertain."

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			SystemPrompt: defaultSystemPrompt,
			MaxTokens:    1024,
			Temperature:  0.8,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxRetries:  3,
			TimeoutSecs: 120,
		},
		SummaryLLM: SummaryConfig{
			Temperature: 0.3,
			MaxTokens:   1024,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Voice: VoiceConfig{
			Provider: "openai",
			Model:    "whisper-1",
		},
		Memory: MemoryConfig{
			MaxHistoryLength:  14,
			EvictionPolicy:    EvictIngest,
			ChunkSize:         1000,
			ChunkOverlap:      200,
			TopK:              2,
			IngestConcurrency: 4,
			DataDir:           defaultDataDir(),
		},
		Security: SecurityConfig{
			UseKeyring: true,
		},
		Usage: UsageConfig{
			RequestLimit: 50,
		},
	}
}

// values flattens cfg into dotted viper keys.
func values(cfg *Config) map[string]any {
	return map[string]any{
		"debug": cfg.Debug,

		"agent.system_prompt": cfg.Agent.SystemPrompt,
		"agent.max_tokens":    cfg.Agent.MaxTokens,
		"agent.temperature":   cfg.Agent.Temperature,

		"llm.provider":     cfg.LLM.Provider,
		"llm.model":        cfg.LLM.Model,
		"llm.api_key":      cfg.LLM.APIKey,
		"llm.base_url":     cfg.LLM.BaseURL,
		"llm.max_retries":  cfg.LLM.MaxRetries,
		"llm.timeout_secs": cfg.LLM.TimeoutSecs,

		"fallback_llm.provider":     cfg.FallbackLLM.Provider,
		"fallback_llm.model":        cfg.FallbackLLM.Model,
		"fallback_llm.api_key":      cfg.FallbackLLM.APIKey,
		"fallback_llm.base_url":     cfg.FallbackLLM.BaseURL,
		"fallback_llm.max_retries":  cfg.FallbackLLM.MaxRetries,
		"fallback_llm.timeout_secs": cfg.FallbackLLM.TimeoutSecs,

		"summary_llm.model":       cfg.SummaryLLM.Model,
		"summary_llm.temperature": cfg.SummaryLLM.Temperature,
		"summary_llm.max_tokens":  cfg.SummaryLLM.MaxTokens,

		"embedding.provider": cfg.Embedding.Provider,
		"embedding.model":    cfg.Embedding.Model,
		"embedding.api_key":  cfg.Embedding.APIKey,
		"embedding.base_url": cfg.Embedding.BaseURL,

		"voice.enabled":  cfg.Voice.Enabled,
		"voice.provider": cfg.Voice.Provider,
		"voice.model":    cfg.Voice.Model,
		"voice.api_key":  cfg.Voice.APIKey,
		"voice.base_url": cfg.Voice.BaseURL,

		"memory.max_history_length": cfg.Memory.MaxHistoryLength,
		"memory.eviction_policy":    cfg.Memory.EvictionPolicy,
		"memory.chunk_size":         cfg.Memory.ChunkSize,
		"memory.chunk_overlap":      cfg.Memory.ChunkOverlap,
		"memory.top_k":              cfg.Memory.TopK,
		"memory.ingest_concurrency": cfg.Memory.IngestConcurrency,
		"memory.data_dir":           cfg.Memory.DataDir,

		"channels.telegram.token":       cfg.Channels.Telegram.Token,
		"channels.telegram.allowed_ids": cfg.Channels.Telegram.AllowedIDs,

		"security.use_keyring": cfg.Security.UseKeyring,
		"security.redact_pii":  cfg.Security.RedactPII,

		"usage.request_limit": cfg.Usage.RequestLimit,
	}
}
