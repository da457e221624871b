// Package config loads the ambient configuration for the core's optional
// standalone worker binary. Struct fields are bound declaratively via env
// tags.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Processor configures the async document processor (C8).
type Processor struct {
	PollInterval   time.Duration `env:"RAGCORE_PROCESSOR_POLL_INTERVAL" envDefault:"500ms"`
	WorkerCount    int           `env:"RAGCORE_PROCESSOR_WORKERS" envDefault:"4"`
	EmbedBatchSize int           `env:"RAGCORE_PROCESSOR_EMBED_BATCH" envDefault:"32"`
}

// Retrieval configures default retrieval pipeline behavior (C9).
type Retrieval struct {
	DefaultTopK       int           `env:"RAGCORE_RETRIEVAL_TOP_K" envDefault:"8"`
	NodeTopK          int           `env:"RAGCORE_RETRIEVAL_NODE_TOP_K" envDefault:"4"`
	PoolSize          int           `env:"RAGCORE_RETRIEVAL_POOL_SIZE" envDefault:"40"`
	MMRLambda         float64       `env:"RAGCORE_RETRIEVAL_MMR_LAMBDA" envDefault:"0.5"`
	EmbedTimeout      time.Duration `env:"RAGCORE_RETRIEVAL_EMBED_TIMEOUT" envDefault:"5s"`
	RetrievalTimeout  time.Duration `env:"RAGCORE_RETRIEVAL_TIMEOUT" envDefault:"10s"`
	GenerationTimeout time.Duration `env:"RAGCORE_GENERATION_TIMEOUT" envDefault:"30s"`
}

// Embedding configures the embedding cache, retry, and rate-limit behavior
// (C4).
type Embedding struct {
	CacheTTL       time.Duration `env:"RAGCORE_EMBED_CACHE_TTL" envDefault:"1h"`
	MaxRetries     int           `env:"RAGCORE_EMBED_MAX_RETRIES" envDefault:"3"`
	RetryBaseWait  time.Duration `env:"RAGCORE_EMBED_RETRY_BASE" envDefault:"100ms"`
	RateLimitRPS   float64       `env:"RAGCORE_EMBED_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int           `env:"RAGCORE_EMBED_RATE_LIMIT_BURST" envDefault:"5"`
}

// Config aggregates the ambient knobs for the worker binary.
type Config struct {
	Processor Processor
	Retrieval Retrieval
	Embedding Embedding
}

// Load reads configuration from the environment, falling back to defaults
// rather than failing when a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(&cfg.Processor); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg.Retrieval); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg.Embedding); err != nil {
		return nil, err
	}
	return cfg, nil
}
