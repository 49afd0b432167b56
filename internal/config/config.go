package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultServerAddress  = ":8090"
	DefaultDatabase       = "sqlite3"
	DefaultTokenTTLHours  = 24
	DefaultProvider       = "gemini"
	DefaultTimeoutSeconds = 30
	DefaultMaxUploadBytes = 5 << 20 // 5 MiB
	DefaultMaxTextChars   = 50000
	DefaultMinWorkers     = 1
	DefaultMaxWorkers     = 8
	DefaultQueueSize      = 64
	DefaultWorkerIdleMins = 5

	DefaultTombstoneRetentionHours = 30 * 24
	DefaultTombstoneSweepMinutes   = 60

	defaultSQLiteDSN   = "pulse.db"
	defaultGeminiModel = "gemini-2.5-flash"
	apiKeyEnvSuffix    = "_API_KEY"
	databaseEnv        = "PULSE_DB"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Analysis    AnalysisConfig            `json:"analysis"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	Database          string `json:"database"`
	TokenTTLHours     int    `json:"token_ttl_hours"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// AnalysisConfig bounds the upload and summarization pipeline.
type AnalysisConfig struct {
	Provider            string `json:"provider"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	AbandonAfterSeconds int    `json:"abandon_after_seconds"`
	MaxUploadBytes      int64  `json:"max_upload_bytes"`
	MaxTextChars        int    `json:"max_text_chars"`
	// deleted ids are remembered this long so foreign deletes stay refused
	TombstoneRetentionHours int `json:"tombstone_retention_hours"`
	TombstoneSweepMinutes   int `json:"tombstone_sweep_minutes"`
}

// Default returns a configuration usable without a file: local sqlite, no
// redis, gemini with the key taken from GEMINI_API_KEY.
func Default() *Config {
	cfg := &Config{
		Databases: map[string]DatabaseConfig{
			DefaultDatabase: {DSN: defaultSQLiteDSN},
		},
		Providers: map[string]ProviderConfig{
			DefaultProvider: {Model: defaultGeminiModel},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()

	dbCfg, ok := cfg.Databases[cfg.BasicConfig.Database]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", cfg.BasicConfig.Database)
	}
	if isSQLite(cfg.BasicConfig.Database) {
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("databases.%s.dsn must be configured", cfg.BasicConfig.Database)
		}
		if dbCfg.DSN != ":memory:" && !strings.HasPrefix(dbCfg.DSN, "file:") && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[cfg.BasicConfig.Database] = dbCfg
		}
	}
	if _, ok := cfg.Providers[cfg.Analysis.Provider]; !ok {
		return nil, fmt.Errorf("analysis provider %s not configured", cfg.Analysis.Provider)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if env := strings.TrimSpace(os.Getenv(databaseEnv)); env != "" {
		c.BasicConfig.Database = env
	}
	if c.BasicConfig.Database == "" {
		c.BasicConfig.Database = DefaultDatabase
	}
	if c.BasicConfig.TokenTTLHours <= 0 {
		c.BasicConfig.TokenTTLHours = DefaultTokenTTLHours
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = DefaultMinWorkers
	}
	if c.BasicConfig.MaxWorkers <= 0 {
		c.BasicConfig.MaxWorkers = DefaultMaxWorkers
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = DefaultQueueSize
	}
	if c.BasicConfig.WorkerIdleTimeout <= 0 {
		c.BasicConfig.WorkerIdleTimeout = DefaultWorkerIdleMins
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			p.APIKey = os.Getenv(strings.ToUpper(name) + apiKeyEnvSuffix)
			c.Providers[name] = p
		}
	}

	a := &c.Analysis
	if a.Provider == "" {
		a.Provider = DefaultProvider
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = DefaultTimeoutSeconds
	}
	// late summarizer calls are reaped well after the deadline, never at it
	if a.AbandonAfterSeconds <= a.TimeoutSeconds {
		a.AbandonAfterSeconds = 4 * a.TimeoutSeconds
	}
	if a.MaxUploadBytes <= 0 {
		a.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if a.MaxTextChars <= 0 {
		a.MaxTextChars = DefaultMaxTextChars
	}
	if a.TombstoneRetentionHours <= 0 {
		a.TombstoneRetentionHours = DefaultTombstoneRetentionHours
	}
	if a.TombstoneSweepMinutes <= 0 {
		a.TombstoneSweepMinutes = DefaultTombstoneSweepMinutes
	}
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
