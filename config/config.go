package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the recall service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// RetrievalConfig gates the whole retrieval subsystem and carries its tunables.
type RetrievalConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Search    SearchConfig    `mapstructure:"search"`
}

// EmbeddingConfig configures the embedding client and its provider.
type EmbeddingConfig struct {
	Model         string        `mapstructure:"model"`
	QueryModel    string        `mapstructure:"query_model"` // optional query-specific model
	Dimensions    int           `mapstructure:"dimensions"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	BatchSize     int           `mapstructure:"batch_size"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	MaxChars      int           `mapstructure:"max_chars"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Cache         CacheConfig   `mapstructure:"cache"`
}

// CacheConfig configures the optional redis-backed embedding cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ChunkingConfig controls how long documents are split before embedding.
type ChunkingConfig struct {
	Threshold int `mapstructure:"threshold"`
	Size      int `mapstructure:"size"`
	Overlap   int `mapstructure:"overlap"`
	Slack     int `mapstructure:"slack"`
}

// SearchConfig controls hybrid search fusion and answer assembly.
type SearchConfig struct {
	VectorWeight  float64 `mapstructure:"vector_weight"`
	RRFK          int     `mapstructure:"rrf_k"`
	DefaultLimit  int     `mapstructure:"default_limit"`
	AskTopK       int     `mapstructure:"ask_top_k"`
	ContextBudget int     `mapstructure:"context_budget"` // character budget for ask context
}

// StorageConfig locates the durable stores of the two indexes. They are
// independent of each other.
type StorageConfig struct {
	Keyword KeywordStorageConfig `mapstructure:"keyword"`
	Vector  VectorStorageConfig  `mapstructure:"vector"`
}

type KeywordStorageConfig struct {
	Path string `mapstructure:"path"`
}

type VectorStorageConfig struct {
	Backend      string `mapstructure:"backend"` // memory | qdrant
	SnapshotPath string `mapstructure:"snapshot_path"`
	QdrantURL    string `mapstructure:"qdrant_url"`
	Collection   string `mapstructure:"collection"`
}

// JobsConfig controls the in-memory ingestion job registry.
type JobsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	SweepSchedule string        `mapstructure:"sweep_schedule"` // cron expression, optional
	MaxFileSize   int64         `mapstructure:"max_file_size"`
}

// Normalize applies defaults for unset values.
func (c EmbeddingConfig) Normalize() EmbeddingConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 60
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 8000
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	return c
}

func (c EmbeddingConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("retrieval.embedding.model is required")
	}
	if c.Dimensions <= 0 {
		return errors.New("retrieval.embedding.dimensions must be > 0")
	}
	return nil
}

func (c ChunkingConfig) Normalize() ChunkingConfig {
	if c.Size <= 0 {
		c.Size = 1000
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		c.Overlap = c.Size / 5
	}
	if c.Threshold <= 0 {
		c.Threshold = c.Size + c.Overlap
	}
	if c.Slack <= 0 {
		c.Slack = 120
	}
	if c.Slack > c.Size/2 {
		c.Slack = c.Size / 2
	}
	return c
}

func (c SearchConfig) Normalize() SearchConfig {
	if c.VectorWeight <= 0 || c.VectorWeight > 1 {
		c.VectorWeight = 0.7
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.AskTopK <= 0 {
		c.AskTopK = 5
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 6000
	}
	return c
}

func (c VectorStorageConfig) Validate() error {
	switch c.Backend {
	case "", "memory":
		return nil
	case "qdrant":
		if strings.TrimSpace(c.QdrantURL) == "" {
			return errors.New("storage.vector.qdrant_url required for qdrant backend")
		}
		return nil
	default:
		return fmt.Errorf("storage.vector.backend %q not recognized (memory|qdrant)", c.Backend)
	}
}

func (c JobsConfig) Normalize() JobsConfig {
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 5 * 1024 * 1024
	}
	return c
}

// LoadConfig loads config from file and RECALL_* environment variables.
// path "" searches the usual locations; a missing file is not an error since
// every option can come from the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.search.vector_weight", 0.7)
	v.SetDefault("retrieval.search.rrf_k", 60)
	v.SetDefault("storage.keyword.path", "data/keyword.bleve")
	v.SetDefault("storage.vector.backend", "memory")
	v.SetDefault("storage.vector.snapshot_path", "data/vectors.json")
	v.SetDefault("storage.vector.collection", "recall")
	v.SetDefault("jobs.retention", time.Hour)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Retrieval.Embedding = cfg.Retrieval.Embedding.Normalize()
	cfg.Retrieval.Chunking = cfg.Retrieval.Chunking.Normalize()
	cfg.Retrieval.Search = cfg.Retrieval.Search.Normalize()
	cfg.Jobs = cfg.Jobs.Normalize()

	if cfg.Retrieval.Enabled {
		if err := cfg.Retrieval.Embedding.Validate(); err != nil {
			return nil, err
		}
		if err := cfg.Storage.Vector.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
