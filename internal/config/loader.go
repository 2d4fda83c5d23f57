package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	configDir  = ".dmbot"
	configFile = "config.yaml"
	envPrefix  = "DMBOT"
)

// Loader manages reading and writing the config file.
//
// Precedence (highest to lowest):
//  1. Environment variables (DMBOT_LLM_API_KEY, DMBOT_MEMORY_TOP_K, ...)
//  2. config.yaml values
//  3. Defaults()
type Loader struct {
	mu       sync.RWMutex
	v        *viper.Viper
	config   *Config
	filePath string
	logger   *zap.Logger
}

// NewLoader creates a loader for path, or ~/.dmbot/config.yaml when path is empty.
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	if path == "" {
		dir, err := HomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, configFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}
	return &Loader{
		filePath: path,
		logger:   logger.Named("config"),
	}, nil
}

// HomeDir returns ~/.dmbot.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir), nil
}

func defaultDataDir() string {
	dir, err := HomeDir()
	if err != nil {
		return filepath.Join(".", "data")
	}
	return filepath.Join(dir, "data")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	for key, val := range values(Defaults()) {
		v.SetDefault(key, val)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config from disk. A missing file yields defaults plus env overrides.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := newViper(l.filePath)
	if _, err := os.Stat(l.filePath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	l.v = v
	l.config = cfg
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to disk.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	v := viper.New()
	for key, val := range values(cfg) {
		v.Set(key, val)
	}
	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(l.filePath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Chmod(l.filePath, 0600); err != nil {
		return err
	}

	l.config = cfg
	return nil
}

// Get returns the currently loaded config (or defaults if not loaded yet).
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return Defaults()
	}
	return l.config
}

// FilePath returns the config file path.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Watch calls onChange with the reloaded config every time the file changes.
// Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) error {
	l.mu.RLock()
	v := l.v
	l.mu.RUnlock()
	if v == nil {
		return errors.New("config not loaded")
	}
	if _, err := os.Stat(l.filePath); err != nil {
		return fmt.Errorf("watching config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			l.logger.Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		l.mu.Lock()
		l.config = cfg
		l.mu.Unlock()
		l.logger.Info("config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// Validate checks the values the memory core depends on.
func (c *Config) Validate() error {
	m := c.Memory
	if m.MaxHistoryLength < 1 {
		return fmt.Errorf("memory.max_history_length must be positive, got %d", m.MaxHistoryLength)
	}
	if m.EvictionPolicy != EvictIngest && m.EvictionPolicy != EvictSummarize {
		return fmt.Errorf("memory.eviction_policy must be %q or %q, got %q", EvictIngest, EvictSummarize, m.EvictionPolicy)
	}
	if m.ChunkSize < 1 {
		return fmt.Errorf("memory.chunk_size must be positive, got %d", m.ChunkSize)
	}
	if m.ChunkOverlap < 0 || m.ChunkOverlap >= m.ChunkSize {
		return fmt.Errorf("memory.chunk_overlap must be in [0, %d), got %d", m.ChunkSize, m.ChunkOverlap)
	}
	if m.TopK < 1 {
		return fmt.Errorf("memory.top_k must be positive, got %d", m.TopK)
	}
	if m.IngestConcurrency < 1 {
		return fmt.Errorf("memory.ingest_concurrency must be positive, got %d", m.IngestConcurrency)
	}
	if c.LLM.Provider == "" {
		return errors.New("llm.provider is required")
	}
	return nil
}
