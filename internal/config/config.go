package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	pgerrors "github.com/planwell/plangraph/internal/errors"
)

// Config represents the complete plangraph configuration (v1 schema)
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Watcher   WatcherConfig   `json:"watcher" mapstructure:"watcher"`
	Resolver  ResolverConfig  `json:"resolver" mapstructure:"resolver"`
	Conflicts ConflictsConfig `json:"conflicts" mapstructure:"conflicts"`
	Notify    NotifyConfig    `json:"notify" mapstructure:"notify"`
	Retrieval RetrievalConfig `json:"retrieval" mapstructure:"retrieval"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// StoreConfig contains database configuration
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// WatcherConfig contains file-watcher timing and scope configuration
type WatcherConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	Roots          []string `json:"roots" mapstructure:"roots"`
	DebounceMs     int      `json:"debounceMs" mapstructure:"debounceMs"`
	SettleMs       int      `json:"settleMs" mapstructure:"settleMs"`
	PollIntervalMs int      `json:"pollIntervalMs" mapstructure:"pollIntervalMs"`
	Ignore         []string `json:"ignore" mapstructure:"ignore"`
}

// ResolverConfig contains similarity threshold overrides
type ResolverConfig struct {
	SimilarThreshold   float64 `json:"similarThreshold" mapstructure:"similarThreshold"`
	RelatedThreshold   float64 `json:"relatedThreshold" mapstructure:"relatedThreshold"`
	DuplicateThreshold float64 `json:"duplicateThreshold" mapstructure:"duplicateThreshold"`
}

// ConflictsConfig contains conflict detection configuration
type ConflictsConfig struct {
	StaleWipHours int `json:"staleWipHours" mapstructure:"staleWipHours"`
}

// NotifyConfig contains notification channel configuration
type NotifyConfig struct {
	Channels         []string `json:"channels" mapstructure:"channels"`
	FilePath         string   `json:"filePath" mapstructure:"filePath"`
	WebhookURL       string   `json:"webhookUrl" mapstructure:"webhookUrl"`
	WebhookTimeoutMs int      `json:"webhookTimeoutMs" mapstructure:"webhookTimeoutMs"`
}

// RetrievalConfig contains hybrid search configuration
type RetrievalConfig struct {
	DefaultRecipe string `json:"defaultRecipe" mapstructure:"defaultRecipe"`
	TopK          int    `json:"topK" mapstructure:"topK"`
	RRFConstant   int    `json:"rrfConstant" mapstructure:"rrfConstant"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RepoRoot: ".",
		Store: StoreConfig{
			Path: ".plangraph/plangraph.db",
		},
		Watcher: WatcherConfig{
			Enabled:        true,
			Roots:          []string{"plans"},
			DebounceMs:     500,
			SettleMs:       2000,
			PollIntervalMs: 1000,
			Ignore:         []string{".git", "node_modules", ".plangraph", "vendor"},
		},
		Resolver: ResolverConfig{
			SimilarThreshold:   0.8,
			RelatedThreshold:   0.6,
			DuplicateThreshold: 0.95,
		},
		Conflicts: ConflictsConfig{
			StaleWipHours: 48,
		},
		Notify: NotifyConfig{
			Channels:         []string{"log"},
			FilePath:         ".plangraph/conflicts.jsonl",
			WebhookTimeoutMs: 5000,
		},
		Retrieval: RetrievalConfig{
			DefaultRecipe: "HYBRID_BALANCED",
			TopK:          10,
			RRFConstant:   60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from .plangraph/config.json, with
// PLANGRAPH_* environment variables taking precedence over file values.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, ".plangraph"))

	v.SetEnvPrefix("PLANGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, pgerrors.Wrap(pgerrors.ConfigInvalid, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pgerrors.Wrap(pgerrors.ConfigInvalid, "failed to parse config", err)
	}
	if cfg.RepoRoot == "" || cfg.RepoRoot == "." {
		cfg.RepoRoot = repoRoot
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every default value so env overrides resolve even
// when no config file exists.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("repoRoot", d.RepoRoot)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("watcher.enabled", d.Watcher.Enabled)
	v.SetDefault("watcher.roots", d.Watcher.Roots)
	v.SetDefault("watcher.debounceMs", d.Watcher.DebounceMs)
	v.SetDefault("watcher.settleMs", d.Watcher.SettleMs)
	v.SetDefault("watcher.pollIntervalMs", d.Watcher.PollIntervalMs)
	v.SetDefault("watcher.ignore", d.Watcher.Ignore)
	v.SetDefault("resolver.similarThreshold", d.Resolver.SimilarThreshold)
	v.SetDefault("resolver.relatedThreshold", d.Resolver.RelatedThreshold)
	v.SetDefault("resolver.duplicateThreshold", d.Resolver.DuplicateThreshold)
	v.SetDefault("conflicts.staleWipHours", d.Conflicts.StaleWipHours)
	v.SetDefault("notify.channels", d.Notify.Channels)
	v.SetDefault("notify.filePath", d.Notify.FilePath)
	v.SetDefault("notify.webhookUrl", d.Notify.WebhookURL)
	v.SetDefault("notify.webhookTimeoutMs", d.Notify.WebhookTimeoutMs)
	v.SetDefault("retrieval.defaultRecipe", d.Retrieval.DefaultRecipe)
	v.SetDefault("retrieval.topK", d.Retrieval.TopK)
	v.SetDefault("retrieval.rrfConstant", d.Retrieval.RRFConstant)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// Save writes the configuration to .plangraph/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".plangraph")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

var validChannels = map[string]bool{
	"log":     true,
	"file":    true,
	"webhook": true,
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks if the configuration is valid. All violations are fatal
// and reported as CONFIG_INVALID.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "unsupported config version: %d", c.Version)
	}
	if c.Watcher.DebounceMs <= 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "watcher.debounceMs must be positive, got %d", c.Watcher.DebounceMs)
	}
	if c.Watcher.SettleMs <= 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "watcher.settleMs must be positive, got %d", c.Watcher.SettleMs)
	}
	if c.Watcher.PollIntervalMs <= 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "watcher.pollIntervalMs must be positive, got %d", c.Watcher.PollIntervalMs)
	}
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"resolver.similarThreshold", c.Resolver.SimilarThreshold},
		{"resolver.relatedThreshold", c.Resolver.RelatedThreshold},
		{"resolver.duplicateThreshold", c.Resolver.DuplicateThreshold},
	} {
		if th.value < 0 || th.value > 1 {
			return pgerrors.Newf(pgerrors.ConfigInvalid, "%s must be in [0,1], got %g", th.name, th.value)
		}
	}
	if c.Conflicts.StaleWipHours <= 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "conflicts.staleWipHours must be positive, got %d", c.Conflicts.StaleWipHours)
	}
	for _, ch := range c.Notify.Channels {
		if !validChannels[ch] {
			return pgerrors.Newf(pgerrors.ConfigInvalid, "unknown notify channel: %q", ch)
		}
		if ch == "webhook" && c.Notify.WebhookURL == "" {
			return pgerrors.New(pgerrors.ConfigInvalid, "notify.webhookUrl is required when the webhook channel is enabled")
		}
		if ch == "file" && c.Notify.FilePath == "" {
			return pgerrors.New(pgerrors.ConfigInvalid, "notify.filePath is required when the file channel is enabled")
		}
	}
	if c.Notify.WebhookTimeoutMs <= 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "notify.webhookTimeoutMs must be positive, got %d", c.Notify.WebhookTimeoutMs)
	}
	if c.Retrieval.TopK <= 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "retrieval.topK must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.RRFConstant <= 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "retrieval.rrfConstant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	if !validLevels[c.Logging.Level] {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "unknown logging.level: %q", c.Logging.Level)
	}
	if c.Logging.MaxBackups < 0 {
		return pgerrors.Newf(pgerrors.ConfigInvalid, "logging.maxBackups must not be negative, got %d", c.Logging.MaxBackups)
	}
	return nil
}
