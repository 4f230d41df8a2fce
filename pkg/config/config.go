// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Engine, Retrieval, Answer, OpenAI, Kafka, Postgres,
// Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Answer    AnswerConfig    `yaml:"answer"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// EngineConfig controls chunking, BM25 parameters, and where the index is
// persisted on disk. ReloadInterval is how often a read-only serving process
// polls the persisted files for a new generation written by the worker.
type EngineConfig struct {
	DataDir        string        `yaml:"dataDir"`
	ChunkMaxChars  int           `yaml:"chunkMaxChars"`
	ChunkMinChars  int           `yaml:"chunkMinChars"`
	BM25K1         float64       `yaml:"bm25K1"`
	BM25B          float64       `yaml:"bm25B"`
	ReloadInterval time.Duration `yaml:"reloadInterval"`
}

// RetrievalConfig controls hybrid search fusion and reranking.
type RetrievalConfig struct {
	DefaultTopK    int           `yaml:"defaultTopK"`
	MaxTopK        int           `yaml:"maxTopK"`
	SemanticWeight float64       `yaml:"semanticWeight"`
	RerankEnabled  bool          `yaml:"rerankEnabled"`
	RerankDepth    int           `yaml:"rerankDepth"`
	RerankTimeout  time.Duration `yaml:"rerankTimeout"`
}

// AnswerConfig bounds the generation prompt and output validation.
type AnswerConfig struct {
	MaxContextDocs  int           `yaml:"maxContextDocs"`
	ExcerptMaxChars int           `yaml:"excerptMaxChars"`
	MaxTokens       int           `yaml:"maxTokens"`
	MinAnswerChars  int           `yaml:"minAnswerChars"`
	GenerateTimeout time.Duration `yaml:"generateTimeout"`
}

// OpenAIConfig holds model names and call limits for the external
// embedding/reranking/generation capabilities. The API key is taken from the
// OPENAI_API_KEY environment variable, never from YAML.
type OpenAIConfig struct {
	EmbedModel    string        `yaml:"embedModel"`
	ChatModel     string        `yaml:"chatModel"`
	EmbedTimeout  time.Duration `yaml:"embedTimeout"`
	EmbedBatchMax int           `yaml:"embedBatchMax"`
	MaxRetries    int           `yaml:"maxRetries"`
}

// KafkaConfig holds Kafka broker and topic settings for the ingest pipeline.
// When Enabled is false the HTTP service indexes documents synchronously
// instead of enqueueing them.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
}

// PostgresConfig holds connection parameters for the document archive.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and search-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.ChunkMinChars >= c.Engine.ChunkMaxChars {
		return fmt.Errorf("engine.chunkMinChars (%d) must be below engine.chunkMaxChars (%d)",
			c.Engine.ChunkMinChars, c.Engine.ChunkMaxChars)
	}
	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.SemanticWeight > 1 {
		return fmt.Errorf("retrieval.semanticWeight must be in [0,1], got %v", c.Retrieval.SemanticWeight)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			DataDir:        "data/index",
			ChunkMaxChars:  600,
			ChunkMinChars:  30,
			BM25K1:         1.5,
			BM25B:          0.75,
			ReloadInterval: 5 * time.Second,
		},
		Retrieval: RetrievalConfig{
			DefaultTopK:    3,
			MaxTopK:        50,
			SemanticWeight: 0.7,
			RerankEnabled:  false,
			RerankDepth:    10,
			RerankTimeout:  20 * time.Second,
		},
		Answer: AnswerConfig{
			MaxContextDocs:  5,
			ExcerptMaxChars: 400,
			MaxTokens:       300,
			MinAnswerChars:  20,
			GenerateTimeout: 60 * time.Second,
		},
		OpenAI: OpenAIConfig{
			EmbedModel:    "text-embedding-3-small",
			ChatModel:     "gpt-4o-mini",
			EmbedTimeout:  30 * time.Second,
			EmbedBatchMax: 64,
			MaxRetries:    3,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "lexrag-ingest",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
			},
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "lexrag",
			User:            "lexrag",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads LR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LR_ENGINE_DATA_DIR"); v != "" {
		cfg.Engine.DataDir = v
	}
	if v := os.Getenv("LR_RETRIEVAL_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.SemanticWeight = w
		}
	}
	if v := os.Getenv("LR_RETRIEVAL_RERANK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Retrieval.RerankEnabled = b
		}
	}
	if v := os.Getenv("LR_OPENAI_EMBED_MODEL"); v != "" {
		cfg.OpenAI.EmbedModel = v
	}
	if v := os.Getenv("LR_OPENAI_CHAT_MODEL"); v != "" {
		cfg.OpenAI.ChatModel = v
	}
	if v := os.Getenv("LR_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("LR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LR_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("LR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("LR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("LR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LR_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("LR_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("LR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
