package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Graph store connection
	Graph GraphConfig `mapstructure:"graph" yaml:"graph"`

	// Scorer/explainer artifact
	Model ModelConfig `mapstructure:"model" yaml:"model"`

	// Subgraph extraction bounds
	Extract ExtractConfig `mapstructure:"extract" yaml:"extract"`

	// Asynchronous explanation jobs
	Explain ExplainConfig `mapstructure:"explain" yaml:"explain"`

	// Shared result cache
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`

	// Score audit log and ingestion dead-letter queue
	Audit AuditConfig `mapstructure:"audit" yaml:"audit"`

	// Bulk ingestion
	Ingest IngestConfig `mapstructure:"ingest" yaml:"ingest"`

	// Logging
	Log LogConfig `mapstructure:"log" yaml:"log"`
}

type GraphConfig struct {
	URI            string        `mapstructure:"uri" yaml:"uri"`
	User           string        `mapstructure:"user" yaml:"user"`
	Password       string        `mapstructure:"password" yaml:"password"`
	Database       string        `mapstructure:"database" yaml:"database"`
	MaxPoolSize    int           `mapstructure:"max_pool_size" yaml:"max_pool_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"` // extraction queries; 0 keeps per-tier defaults
	RichTraversal  bool          `mapstructure:"rich_traversal" yaml:"rich_traversal"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	InMemory       bool          `mapstructure:"in_memory" yaml:"in_memory"` // in-process store, for demos and tests
}

type ModelConfig struct {
	Path         string        `mapstructure:"path" yaml:"path"`
	ScoreTimeout time.Duration `mapstructure:"score_timeout" yaml:"score_timeout"`
}

type ExtractConfig struct {
	DefaultDepth int `mapstructure:"default_depth" yaml:"default_depth"`
	MaxDepth     int `mapstructure:"max_depth" yaml:"max_depth"`
}

type ExplainConfig struct {
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
	ResultStore string        `mapstructure:"result_store" yaml:"result_store"` // "memory", "bolt", "redis"
	BoltPath    string        `mapstructure:"bolt_path" yaml:"bolt_path"`
	ResultTTL   time.Duration `mapstructure:"result_ttl" yaml:"result_ttl"`
	Risk        RiskConfig    `mapstructure:"risk" yaml:"risk"`
}

type RiskConfig struct {
	MediumThreshold float64 `mapstructure:"medium_threshold" yaml:"medium_threshold"`
	HighThreshold   float64 `mapstructure:"high_threshold" yaml:"high_threshold"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type AuditConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite3", "postgres"
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	Concurrency   int     `mapstructure:"concurrency" yaml:"concurrency"`
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Graph: GraphConfig{
			URI:            "bolt://localhost:7687",
			User:           "neo4j",
			Database:       "neo4j",
			MaxPoolSize:    50,
			AcquireTimeout: 60 * time.Second,
			ConnectTimeout: 5 * time.Second,
			RichTraversal:  true,
			HealthInterval: 30 * time.Second,
		},
		Model: ModelConfig{
			ScoreTimeout: 800 * time.Millisecond,
		},
		Extract: ExtractConfig{
			DefaultDepth: 2,
			MaxDepth:     5,
		},
		Explain: ExplainConfig{
			Workers:     4,
			QueueSize:   64,
			JobTimeout:  30 * time.Second,
			ResultStore: "memory",
			BoltPath:    filepath.Join(homeDir, ".fraudgraph", "explanations.db"),
			ResultTTL:   time.Hour,
			Risk: RiskConfig{
				MediumThreshold: 0.50,
				HighThreshold:   0.75,
			},
		},
		Audit: AuditConfig{
			Driver: "sqlite3",
		},
		Ingest: IngestConfig{
			Concurrency:   8,
			RatePerSecond: 200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("model", cfg.Model)
	v.SetDefault("extract", cfg.Extract)
	v.SetDefault("explain", cfg.Explain)
	v.SetDefault("redis", cfg.Redis)
	v.SetDefault("audit", cfg.Audit)
	v.SetDefault("ingest", cfg.Ingest)
	v.SetDefault("log", cfg.Log)

	// Load from environment variables
	v.SetEnvPrefix("FRAUDGRAPH")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".fraudgraph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".fraudgraph"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg, NewKeychain())

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			// godotenv never overrides variables that are already set
			_ = godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".fraudgraph", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the conventional environment variables
func applyEnvOverrides(cfg *Config, kc *Keychain) {
	cfg.Graph.URI = GetString("NEO4J_URI", cfg.Graph.URI)
	cfg.Graph.User = GetString("NEO4J_USER", cfg.Graph.User)
	cfg.Graph.Database = GetString("NEO4J_DATABASE", cfg.Graph.Database)
	cfg.Graph.RichTraversal = GetBool("NEO4J_RICH_TRAVERSAL", cfg.Graph.RichTraversal)
	cfg.Graph.QueryTimeout = GetDuration("NEO4J_QUERY_TIMEOUT", cfg.Graph.QueryTimeout)

	// Precedence: env var, then config file, then keychain
	cfg.Graph.Password = GetString("NEO4J_PASSWORD", cfg.Graph.Password)
	kc.fill(&cfg.Graph.Password, SecretGraphPassword)

	if path := os.Getenv("MODEL_PATH"); path != "" {
		cfg.Model.Path = expandPath(path)
	}

	cfg.Redis.Addr = GetString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = GetString("REDIS_PASSWORD", cfg.Redis.Password)
	if cfg.Redis.Addr != "" {
		kc.fill(&cfg.Redis.Password, SecretRedisPassword)
	}

	cfg.Audit.Driver = GetString("AUDIT_DRIVER", cfg.Audit.Driver)
	if dsn := os.Getenv("AUDIT_DSN"); dsn != "" {
		cfg.Audit.DSN = expandPath(dsn)
	}

	cfg.Model.ScoreTimeout = GetDuration("MODEL_SCORE_TIMEOUT", cfg.Model.ScoreTimeout)

	cfg.Ingest.Concurrency = GetInt("INGEST_CONCURRENCY", cfg.Ingest.Concurrency)
	cfg.Ingest.RatePerSecond = GetFloat("INGEST_RATE_PER_SECOND", cfg.Ingest.RatePerSecond)

	cfg.Explain.Workers = GetInt("EXPLAIN_WORKERS", cfg.Explain.Workers)
	cfg.Explain.JobTimeout = GetDuration("EXPLAIN_JOB_TIMEOUT", cfg.Explain.JobTimeout)
	cfg.Explain.ResultStore = GetString("EXPLAIN_RESULT_STORE", cfg.Explain.ResultStore)

	cfg.Log.Level = GetString("LOG_LEVEL", cfg.Log.Level)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("graph", c.Graph)
	v.Set("model", c.Model)
	v.Set("extract", c.Extract)
	v.Set("explain", c.Explain)
	v.Set("redis", c.Redis)
	v.Set("audit", c.Audit)
	v.Set("ingest", c.Ingest)
	v.Set("log", c.Log)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
