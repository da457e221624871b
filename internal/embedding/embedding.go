// Package embedding defines the embedding provider port, a pluggable cache
// in front of it, and a deterministic fake provider for tests and CI.
package embedding

import (
	"context"
)

// TaskType distinguishes cache keys for different embedding uses; the full
// cache key is (model_id, task_type, normalized_text).
type TaskType string

const (
	TaskTypeQuery    TaskType = "query"
	TaskTypeDocument TaskType = "document"
	TaskTypeNode     TaskType = "node"
)

// Provider is the pluggable embedding backend.
type Provider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// Embedder is the port the rest of the core depends on: query & batch
// embedding with caching baked in.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
}
