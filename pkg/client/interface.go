package client

import (
	"context"

	"github.com/snow-ghost/fuzzyeval/pkg/api"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
	"github.com/snow-ghost/fuzzyeval/pkg/streaming"
)

// EvaluatorClient defines the remote evaluation operations
type EvaluatorClient interface {
	// Evaluate scores one input vector
	Evaluate(ctx context.Context, inputs map[string]float64) (*api.EvaluateResponse, error)

	// EvaluateBatch scores input vectors, preserving order
	EvaluateBatch(ctx context.Context, items []map[string]float64) (*api.BatchResponse, error)

	// EvaluateStream scores input vectors, delivering each result as it is ready
	EvaluateStream(ctx context.Context, items []map[string]float64, fn func(streaming.Result) error) (streaming.Summary, error)

	// Model retrieves the served model definition
	Model(ctx context.Context) (*registry.Definition, error)

	// History retrieves the newest journal records
	History(ctx context.Context, filter journal.Filter) ([]journal.Record, error)

	// Health checks if the service is healthy
	Health(ctx context.Context) error
}

// Ensure Client implements EvaluatorClient interface
var _ EvaluatorClient = (*Client)(nil)
