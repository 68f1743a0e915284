// Package config loads pipeline configuration from an optional config.yaml,
// JOBPIPE_* environment variables, and defaults, and initializes the global
// logger.
package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Data   DataConfig   `mapstructure:"data"`
	Batch  BatchConfig  `mapstructure:"batch"`
	Log    LogConfig    `mapstructure:"log"`
}

type StoreConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

type OpenAIConfig struct {
	Key            string  `mapstructure:"key"`
	BaseURL        string  `mapstructure:"base_url"`
	ChatModel      string  `mapstructure:"chat_model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	MaxTokens      int     `mapstructure:"max_completion_tokens"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// DataConfig points at the folder tree the pipeline uses as its durable
// artifact queue. All stage directories are derived from Root.
type DataConfig struct {
	Root       string `mapstructure:"root"`
	GeocodeCSV string `mapstructure:"geocode_csv"`
}

func (d DataConfig) IngestableDir() string      { return filepath.Join(d.Root, "Ingestable") }
func (d DataConfig) IngestedDir() string        { return filepath.Join(d.Root, "Ingested") }
func (d DataConfig) WorkplaceBatchDir() string  { return filepath.Join(d.Root, "llmbatch") }
func (d DataConfig) WorkplaceResultDir() string { return filepath.Join(d.Root, "llmresult") }
func (d DataConfig) LocationBatchDir() string   { return filepath.Join(d.Root, "locationbatch") }
func (d DataConfig) LocationResultDir() string  { return filepath.Join(d.Root, "locationresult") }
func (d DataConfig) EmbeddingBatchDir() string  { return filepath.Join(d.Root, "embeddingbatch") }
func (d DataConfig) EmbeddingResultDir() string { return filepath.Join(d.Root, "embeddingresult") }

type BatchConfig struct {
	Workplace DomainConfig `mapstructure:"workplace"`
	Location  DomainConfig `mapstructure:"location"`
	Embedding DomainConfig `mapstructure:"embedding"`
	FlushSize int          `mapstructure:"flush_size"`
}

type DomainConfig struct {
	ChunkSize   int `mapstructure:"chunk_size"`
	MaxInFlight int `mapstructure:"max_in_flight"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.yaml from the working directory if present, then layers
// JOBPIPE_* environment variables and defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("JOBPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a real default still need registering so AutomaticEnv
	// overrides survive Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("openai.key", "")
	v.SetDefault("data.root", "")
	v.SetDefault("data.geocode_csv", "")

	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.chat_model", "gpt-5-nano")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.max_completion_tokens", 2000)
	v.SetDefault("openai.requests_per_sec", 5.0)
	v.SetDefault("batch.workplace.chunk_size", 25000)
	v.SetDefault("batch.workplace.max_in_flight", 2)
	v.SetDefault("batch.location.chunk_size", 25000)
	v.SetDefault("batch.location.max_in_flight", 2)
	v.SetDefault("batch.embedding.chunk_size", 20000)
	v.SetDefault("batch.embedding.max_in_flight", 2)
	v.SetDefault("batch.flush_size", 5000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !eris.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings without which no command can run.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Data.Root == "" {
		return eris.New("config: data.root is required")
	}
	if c.OpenAI.Key == "" {
		return eris.New("config: openai.key is required")
	}
	return nil
}

// InitLogger builds the global zap logger from the log config.
func InitLogger(cfg LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
