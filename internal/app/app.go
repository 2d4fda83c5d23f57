// Package app wires the configuration, storage, LLM clients, memory core,
// channels and commands into a running bot.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/agent"
	"github.com/pointcrash/ai-dm-bot/internal/campaign"
	"github.com/pointcrash/ai-dm-bot/internal/channel"
	"github.com/pointcrash/ai-dm-bot/internal/command"
	"github.com/pointcrash/ai-dm-bot/internal/config"
	"github.com/pointcrash/ai-dm-bot/internal/eventbus"
	"github.com/pointcrash/ai-dm-bot/internal/llm"
	"github.com/pointcrash/ai-dm-bot/internal/memory"
	"github.com/pointcrash/ai-dm-bot/internal/rag"
	"github.com/pointcrash/ai-dm-bot/internal/security"
	"github.com/pointcrash/ai-dm-bot/internal/storage"
	"github.com/pointcrash/ai-dm-bot/internal/usage"
)

// Names under which secrets are kept in the key store.
const (
	SecretLLMKey         = "llm_api_key"
	SecretFallbackLLMKey = "fallback_llm_api_key"
	SecretEmbeddingKey   = "embedding_api_key"
	SecretVoiceKey       = "voice_api_key"
	SecretTelegramToken  = "telegram_token"
)

const databaseFile = "dmbot.db"

// Mode selects the channel the bot talks through.
type Mode int

const (
	ModeTelegram Mode = iota
	ModeConsole
)

// Options configure New.
type Options struct {
	Config *config.Config
	// Loader, when set, hot-reloads agent tuning on config file changes.
	Loader *config.Loader
	Logger *zap.Logger
	// KeyStore resolves [keyring] placeholders in the config.
	KeyStore *security.KeyStore
	Mode     Mode
	// In and Out back the console channel.
	In  io.Reader
	Out io.Writer
	// ConsoleUserID is the player id of console messages.
	ConsoleUserID int64
}

// App holds the application state.
type App struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger

	db       *sql.DB
	bus      *eventbus.Bus
	channels *channel.Manager
	console  *channel.ConsoleChannel
	agent    *agent.Agent

	completer *llm.Completer
	digester  *llm.Completer
}

// New builds every component from opts. Close releases what New opened.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := *opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := resolveSecrets(&cfg, opts.KeyStore); err != nil {
		return nil, err
	}

	a := &App{
		cfg:      &cfg,
		loader:   opts.Loader,
		logger:   logger,
		bus:      eventbus.New(),
		channels: channel.NewManager(logger),
	}
	eventbus.LogEvents(a.bus, logger)

	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.cfg

	db, err := storage.Open(filepath.Join(cfg.Memory.DataDir, databaseFile))
	if err != nil {
		return err
	}
	a.db = db

	histories, err := memory.NewSQLiteStore(ctx, db)
	if err != nil {
		return err
	}
	campaigns, err := campaign.NewSQLiteStore(ctx, db)
	if err != nil {
		return err
	}
	tracker, err := usage.NewTracker(ctx, db)
	if err != nil {
		return err
	}
	redactor, err := security.NewRedactor(cfg.Security.RedactPII)
	if err != nil {
		return err
	}

	provider, err := llm.NewProviderChain(cfg.LLM, cfg.FallbackLLM, a.logger)
	if err != nil {
		return err
	}
	a.completer = llm.NewCompleter(provider, completerOptions(cfg))
	a.digester = llm.NewCompleter(provider, digestOptions(cfg))

	bufOpts := memory.Options{
		MaxLength:  cfg.Memory.MaxHistoryLength,
		Policy:     memory.Policy(cfg.Memory.EvictionPolicy),
		Store:      histories,
		Summarizer: memory.NewLLMSummarizer(a.digester),
		Bus:        a.bus,
		Logger:     a.logger,
	}

	// Under the summarize policy nothing is archived, so there is nothing to retrieve.
	var retriever agent.Retriever
	if bufOpts.Policy == memory.PolicyIngest {
		index, err := a.newIndex(ctx, db)
		if err != nil {
			return err
		}
		bufOpts.Archive = index
		retriever = index
	}

	buffer, err := memory.NewBuffer(bufOpts)
	if err != nil {
		return err
	}

	assembler := agent.NewContextAssembler(cfg.Agent.SystemPrompt, campaigns, retriever, buffer, a.logger)
	a.agent, err = agent.New(agent.Options{
		Memory:       buffer,
		Completer:    a.completer,
		Assembler:    assembler,
		Characters:   campaigns,
		Usage:        tracker,
		Redactor:     redactor,
		Channels:     a.channels,
		Bus:          a.bus,
		Logger:       a.logger,
		RequestLimit: cfg.Usage.RequestLimit,
	})
	if err != nil {
		return err
	}
	a.agent.SetCommands(command.NewDefaultRegistry(command.Deps{
		Conversation: a.agent,
		Campaigns:    campaigns,
		Usage:        tracker,
	}))

	return a.registerChannel(opts)
}

func (a *App) newIndex(ctx context.Context, db *sql.DB) (*rag.Manager, error) {
	cfg := a.cfg
	embedding := cfg.Embedding
	if embedding.APIKey == "" && embedding.Provider == cfg.LLM.Provider {
		embedding.APIKey = cfg.LLM.APIKey
		if embedding.BaseURL == "" {
			embedding.BaseURL = cfg.LLM.BaseURL
		}
	}
	embedder, err := llm.NewEmbedder(embedding)
	if err != nil {
		return nil, err
	}
	store, err := rag.NewStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return rag.NewManager(rag.Options{
		DataDir:      cfg.Memory.DataDir,
		ChunkSize:    cfg.Memory.ChunkSize,
		ChunkOverlap: cfg.Memory.ChunkOverlap,
		TopK:         cfg.Memory.TopK,
		Concurrency:  cfg.Memory.IngestConcurrency,
		Store:        store,
		Embedder:     embedder,
		Bus:          a.bus,
		Logger:       a.logger,
	})
}

func (a *App) registerChannel(opts Options) error {
	switch opts.Mode {
	case ModeConsole:
		in, out := opts.In, opts.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		a.console = channel.NewConsoleChannel(in, out, opts.ConsoleUserID)
		a.channels.Register(a.console)
	default:
		tg := a.cfg.Channels.Telegram
		if tg.Token == "" {
			return errors.New("channels.telegram.token is not configured")
		}
		bot := channel.NewTelegramChannel(channel.TelegramConfig{
			Token:      tg.Token,
			AllowedIDs: tg.AllowedIDs,
		}, a.logger)
		if a.cfg.Voice.Enabled {
			tr, err := a.newTranscriber()
			if err != nil {
				return err
			}
			bot.SetTranscriber(tr)
		}
		a.channels.Register(bot)
	}
	return nil
}

// newTranscriber builds the voice transcriber, sharing the main LLM's
// credentials when the voice section has none of its own.
func (a *App) newTranscriber() (llm.Transcriber, error) {
	voice := a.cfg.Voice
	if voice.APIKey == "" && voice.Provider == a.cfg.LLM.Provider {
		voice.APIKey = a.cfg.LLM.APIKey
		if voice.BaseURL == "" {
			voice.BaseURL = a.cfg.LLM.BaseURL
		}
	}
	return llm.NewTranscriber(voice)
}

// Agent returns the conversation orchestrator.
func (a *App) Agent() *agent.Agent {
	return a.agent
}

// Bus returns the event bus.
func (a *App) Bus() *eventbus.Bus {
	return a.bus
}

// Run starts the channels and blocks until ctx is cancelled or, in console
// mode, the input is exhausted.
func (a *App) Run(ctx context.Context) error {
	a.agent.Start(ctx)
	if err := a.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer a.channels.StopAll(context.Background())

	if a.loader != nil {
		if err := a.loader.Watch(a.applyConfig); err != nil {
			a.logger.Info("config hot reload disabled", zap.Error(err))
		}
	}
	a.logger.Info("bot running",
		zap.Strings("channels", a.channels.Names()),
		zap.String("eviction", a.cfg.Memory.EvictionPolicy),
	)

	var done <-chan struct{}
	if a.console != nil {
		done = a.console.Done()
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

// applyConfig re-applies the settings that can change without a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.agent.SetSystemPrompt(cfg.Agent.SystemPrompt)
	a.agent.SetRequestLimit(cfg.Usage.RequestLimit)
	a.completer.SetOptions(completerOptions(cfg))
	a.digester.SetOptions(digestOptions(cfg))
}

// Close stops the channels and closes the database.
func (a *App) Close() error {
	a.channels.StopAll(context.Background())
	a.bus.Wait()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func completerOptions(cfg *config.Config) llm.CompleterOptions {
	return llm.CompleterOptions{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
	}
}

func digestOptions(cfg *config.Config) llm.CompleterOptions {
	model := cfg.SummaryLLM.Model
	if model == "" {
		model = cfg.LLM.Model
	}
	return llm.CompleterOptions{
		Model:       model,
		MaxTokens:   cfg.SummaryLLM.MaxTokens,
		Temperature: cfg.SummaryLLM.Temperature,
	}
}

// resolveSecrets replaces [keyring] placeholders in cfg with stored secrets.
func resolveSecrets(cfg *config.Config, ks *security.KeyStore) error {
	secrets := []struct {
		value *string
		name  string
	}{
		{&cfg.LLM.APIKey, SecretLLMKey},
		{&cfg.FallbackLLM.APIKey, SecretFallbackLLMKey},
		{&cfg.Embedding.APIKey, SecretEmbeddingKey},
		{&cfg.Voice.APIKey, SecretVoiceKey},
		{&cfg.Channels.Telegram.Token, SecretTelegramToken},
	}
	for _, s := range secrets {
		if *s.value != security.KeyringPlaceholder {
			continue
		}
		if ks == nil {
			return fmt.Errorf("%s is stored in the keyring but no key store is available", s.name)
		}
		val, err := ks.Resolve(*s.value, s.name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", s.name, err)
		}
		*s.value = val
	}
	return nil
}
