// Package config provides configuration management for Recollect.
// Settings are built from defaults, overlaid with an optional YAML file, then
// with environment variables using the RECOLLECT_ prefix, and finally
// normalized into their valid ranges. The resulting value is treated as
// immutable: components receive copies and never read the environment again.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for Recollect.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Blob       BlobConfig       `yaml:"blob"`
	Queue      QueueConfig      `yaml:"queue"`
	LLM        LLMConfig        `yaml:"llm"`
	Security   SecurityConfig   `yaml:"security"`
	Search     SearchConfig     `yaml:"search"`
	Versioning VersioningConfig `yaml:"versioning"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Log        LogConfig        `yaml:"log"`
	Progress   ProgressConfig   `yaml:"progress"`
	Backup     BackupConfig     `yaml:"backup"`
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // Data directory for sqlite and local blobs (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Required when Engine is postgres
}

// BlobConfig selects where raw uploaded payloads live until extraction.
type BlobConfig struct {
	Backend        string `yaml:"backend"` // dir or minio (default: dir)
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"` // default: recollect
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`
}

// QueueConfig contains job queue configuration.
type QueueConfig struct {
	Backend          string `yaml:"backend"`     // memory or kafka (default: memory)
	Workers          int    `yaml:"workers"`     // default: 2
	Size             int    `yaml:"size"`        // In-memory buffer size (default: 1000)
	MaxRetries       int    `yaml:"max_retries"` // default: 3
	KafkaBrokers     string `yaml:"kafka_brokers"`
	KafkaTopicPrefix string `yaml:"kafka_topic_prefix"`
	KafkaGroupID     string `yaml:"kafka_group_id"`
}

// LLMConfig contains collaborator model configuration.
type LLMConfig struct {
	Provider             string `yaml:"provider"` // ollama, openai, anthropic (default: ollama)
	OllamaURL            string `yaml:"ollama_url"`
	OllamaModel          string `yaml:"ollama_model"`
	EmbeddingModel       string `yaml:"embedding_model"` // Ollama embedding model
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIBaseURL        string `yaml:"openai_base_url"`
	OpenAIModel          string `yaml:"openai_model"`
	OpenAIEmbeddingModel string `yaml:"openai_embedding_model"`
	AnthropicAPIKey      string `yaml:"anthropic_api_key"`
	AnthropicModel       string `yaml:"anthropic_model"`
}

// SecurityConfig contains at-rest encryption settings.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // Empty disables encryption
}

// SearchConfig tunes memory search.
type SearchConfig struct {
	TopK          int     `yaml:"top_k"`          // default: 10, clamped to [1,50]
	MinSimilarity float64 `yaml:"min_similarity"` // default: 0.2
}

// VersioningConfig tunes the update-vs-new decision for added memories.
type VersioningConfig struct {
	MinSimilarity float64 `yaml:"min_similarity"` // default: 0.75
	MaxParents    int     `yaml:"max_parents"`    // default: 1, clamped to [1,5]
}

// ChunkingConfig tunes the semantic chunker.
type ChunkingConfig struct {
	TargetSize int `yaml:"target_size"`
	Overlap    int `yaml:"overlap"`
	MaxSize    int `yaml:"max_size"`
	MinSize    int `yaml:"min_size"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
	JSON  bool   `yaml:"json"`
}

// ProgressConfig controls where pipeline progress events are published.
type ProgressConfig struct {
	Addr      string `yaml:"addr"`       // Websocket listener, empty disables it
	EventsDir string `yaml:"events_dir"` // Cross-process event files, empty disables them
}

// BackupConfig controls snapshots of the sqlite database.
type BackupConfig struct {
	Dir             string `yaml:"dir"`              // default: <data_path>/backups
	IntervalMinutes int    `yaml:"interval_minutes"` // Worker snapshot interval, 0 disables (default: 0)
	KeepHourly      int    `yaml:"keep_hourly"`      // default: 24
	KeepDaily       int    `yaml:"keep_daily"`       // default: 7
	KeepWeekly      int    `yaml:"keep_weekly"`      // default: 4
	KeepMonthly     int    `yaml:"keep_monthly"`     // default: 12
}

// Limits applied by Normalize.
const (
	MaxSearchTopK        = 50
	MaxVersioningParents = 5
)

// Default returns a Config populated with defaults only.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Blob: BlobConfig{
			Backend:     "dir",
			MinioBucket: "recollect",
		},
		Queue: QueueConfig{
			Backend:          "memory",
			Workers:          2,
			Size:             1000,
			MaxRetries:       3,
			KafkaBrokers:     "localhost:9092",
			KafkaTopicPrefix: "recollect",
			KafkaGroupID:     "recollect-workers",
		},
		LLM: LLMConfig{
			Provider:             "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			EmbeddingModel:       "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			OpenAIEmbeddingModel: "text-embedding-3-small",
			AnthropicModel:       "claude-3-5-sonnet-20241022",
		},
		Search: SearchConfig{
			TopK:          10,
			MinSimilarity: 0.2,
		},
		Versioning: VersioningConfig{
			MinSimilarity: 0.75,
			MaxParents:    1,
		},
		Chunking: ChunkingConfig{
			TargetSize: 1200,
			Overlap:    200,
			MaxSize:    1500,
			MinSize:    100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Backup: BackupConfig{
			KeepHourly:  24,
			KeepDaily:   7,
			KeepWeekly:  4,
			KeepMonthly: 12,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto cfg. Each current value acts
// as the default, so unset variables leave the file or default value intact.
func applyEnv(cfg *Config) {
	s := &cfg.Storage
	s.Engine = getEnv("RECOLLECT_STORAGE_ENGINE", s.Engine)
	s.DataPath = getEnv("RECOLLECT_DATA_PATH", s.DataPath)
	s.PostgresDSN = getEnv("RECOLLECT_POSTGRES_DSN", s.PostgresDSN)

	b := &cfg.Blob
	b.Backend = getEnv("RECOLLECT_BLOB_BACKEND", b.Backend)
	b.MinioEndpoint = getEnv("RECOLLECT_MINIO_ENDPOINT", b.MinioEndpoint)
	b.MinioAccessKey = getEnv("RECOLLECT_MINIO_ACCESS_KEY", b.MinioAccessKey)
	b.MinioSecretKey = getEnv("RECOLLECT_MINIO_SECRET_KEY", b.MinioSecretKey)
	b.MinioBucket = getEnv("RECOLLECT_MINIO_BUCKET", b.MinioBucket)
	b.MinioUseSSL = getEnvBool("RECOLLECT_MINIO_USE_SSL", b.MinioUseSSL)

	q := &cfg.Queue
	q.Backend = getEnv("RECOLLECT_QUEUE_BACKEND", q.Backend)
	q.Workers = getEnvInt("RECOLLECT_QUEUE_WORKERS", q.Workers)
	q.Size = getEnvInt("RECOLLECT_QUEUE_SIZE", q.Size)
	q.MaxRetries = getEnvInt("RECOLLECT_QUEUE_MAX_RETRIES", q.MaxRetries)
	q.KafkaBrokers = getEnv("RECOLLECT_KAFKA_BROKERS", q.KafkaBrokers)
	q.KafkaTopicPrefix = getEnv("RECOLLECT_KAFKA_TOPIC_PREFIX", q.KafkaTopicPrefix)
	q.KafkaGroupID = getEnv("RECOLLECT_KAFKA_GROUP_ID", q.KafkaGroupID)

	l := &cfg.LLM
	l.Provider = getEnv("RECOLLECT_LLM_PROVIDER", l.Provider)
	l.OllamaURL = getEnv("RECOLLECT_OLLAMA_URL", l.OllamaURL)
	l.OllamaModel = getEnv("RECOLLECT_OLLAMA_MODEL", l.OllamaModel)
	l.EmbeddingModel = getEnv("RECOLLECT_EMBEDDING_MODEL", l.EmbeddingModel)
	l.OpenAIAPIKey = getEnv("RECOLLECT_OPENAI_API_KEY", l.OpenAIAPIKey)
	l.OpenAIBaseURL = getEnv("RECOLLECT_OPENAI_BASE_URL", l.OpenAIBaseURL)
	l.OpenAIModel = getEnv("RECOLLECT_OPENAI_MODEL", l.OpenAIModel)
	l.OpenAIEmbeddingModel = getEnv("RECOLLECT_OPENAI_EMBEDDING_MODEL", l.OpenAIEmbeddingModel)
	l.AnthropicAPIKey = getEnv("RECOLLECT_ANTHROPIC_API_KEY", l.AnthropicAPIKey)
	l.AnthropicModel = getEnv("RECOLLECT_ANTHROPIC_MODEL", l.AnthropicModel)

	cfg.Security.EncryptionKey = getEnv("RECOLLECT_ENCRYPTION_KEY", cfg.Security.EncryptionKey)

	cfg.Search.TopK = getEnvInt("RECOLLECT_SEARCH_TOP_K", cfg.Search.TopK)
	cfg.Search.MinSimilarity = getEnvFloat("RECOLLECT_SEARCH_MIN_SIMILARITY", cfg.Search.MinSimilarity)
	cfg.Versioning.MinSimilarity = getEnvFloat("RECOLLECT_VERSIONING_MIN_SIMILARITY", cfg.Versioning.MinSimilarity)
	cfg.Versioning.MaxParents = getEnvInt("RECOLLECT_VERSIONING_MAX_PARENTS", cfg.Versioning.MaxParents)

	c := &cfg.Chunking
	c.TargetSize = getEnvInt("RECOLLECT_CHUNK_TARGET_SIZE", c.TargetSize)
	c.Overlap = getEnvInt("RECOLLECT_CHUNK_OVERLAP", c.Overlap)
	c.MaxSize = getEnvInt("RECOLLECT_CHUNK_MAX_SIZE", c.MaxSize)
	c.MinSize = getEnvInt("RECOLLECT_CHUNK_MIN_SIZE", c.MinSize)

	cfg.Log.Level = getEnv("RECOLLECT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.JSON = getEnvBool("RECOLLECT_LOG_JSON", cfg.Log.JSON)
	cfg.Progress.Addr = getEnv("RECOLLECT_PROGRESS_ADDR", cfg.Progress.Addr)
	cfg.Progress.EventsDir = getEnv("RECOLLECT_EVENTS_DIR", cfg.Progress.EventsDir)

	bk := &cfg.Backup
	bk.Dir = getEnv("RECOLLECT_BACKUP_DIR", bk.Dir)
	bk.IntervalMinutes = getEnvInt("RECOLLECT_BACKUP_INTERVAL_MINUTES", bk.IntervalMinutes)
	bk.KeepHourly = getEnvInt("RECOLLECT_BACKUP_KEEP_HOURLY", bk.KeepHourly)
	bk.KeepDaily = getEnvInt("RECOLLECT_BACKUP_KEEP_DAILY", bk.KeepDaily)
	bk.KeepWeekly = getEnvInt("RECOLLECT_BACKUP_KEEP_WEEKLY", bk.KeepWeekly)
	bk.KeepMonthly = getEnvInt("RECOLLECT_BACKUP_KEEP_MONTHLY", bk.KeepMonthly)
}

// Normalize clamps tunables into their valid ranges.
func (c *Config) Normalize() {
	c.Search.TopK = clampInt(c.Search.TopK, 1, MaxSearchTopK)
	c.Search.MinSimilarity = clampFloat(c.Search.MinSimilarity, 0, 1)
	c.Versioning.MinSimilarity = clampFloat(c.Versioning.MinSimilarity, 0, 1)
	c.Versioning.MaxParents = clampInt(c.Versioning.MaxParents, 1, MaxVersioningParents)

	if c.Queue.Workers < 1 {
		c.Queue.Workers = 1
	}
	if c.Queue.Size < 1 {
		c.Queue.Size = 1
	}
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = 0
	}

	for _, n := range []*int{&c.Backup.IntervalMinutes, &c.Backup.KeepHourly, &c.Backup.KeepDaily, &c.Backup.KeepWeekly, &c.Backup.KeepMonthly} {
		if *n < 0 {
			*n = 0
		}
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.Storage.DataPath, "backups")
	}

	c.Storage.Engine = strings.ToLower(c.Storage.Engine)
	c.Blob.Backend = strings.ToLower(c.Blob.Backend)
	c.Queue.Backend = strings.ToLower(c.Queue.Backend)
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
}

// Validate checks that backend selections are known and complete.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("RECOLLECT_POSTGRES_DSN is required for the postgres storage engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.Engine))
	}

	switch c.Blob.Backend {
	case "dir":
	case "minio":
		if c.Blob.MinioEndpoint == "" {
			errs = append(errs, errors.New("RECOLLECT_MINIO_ENDPOINT is required for the minio blob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.Blob.Backend))
	}

	switch c.Queue.Backend {
	case "memory", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.Queue.Backend))
	}

	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// KafkaBrokerList splits the comma-separated broker setting.
func (q QueueConfig) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(q.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes true/1/yes and false/0/no, case-insensitively.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
