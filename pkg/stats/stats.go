// Package stats defines the statistics engine that derives growth rates
// and dose-response fits from ingested measurements. The engine itself
// lives outside this module.
package stats

import (
	"context"
	"log/slog"
	"sync"
)

// Engine recomputes derived statistics for a dataset.
type Engine interface {
	ComputeGrowthRates(ctx context.Context, datasetID string) error
	ComputeDoseResponseFits(ctx context.Context, datasetID string) error
}

// Nop does nothing.
type Nop struct{}

func (Nop) ComputeGrowthRates(context.Context, string) error      { return nil }
func (Nop) ComputeDoseResponseFits(context.Context, string) error { return nil }

// Logging logs each request and otherwise does nothing. It stands in for
// the engine in the CLI until one is configured.
type Logging struct {
	Logger *slog.Logger
}

func (l Logging) ComputeGrowthRates(_ context.Context, datasetID string) error {
	l.logger().Info("growth rates stale", "dataset", datasetID)
	return nil
}

func (l Logging) ComputeDoseResponseFits(_ context.Context, datasetID string) error {
	l.logger().Info("dose-response fits stale", "dataset", datasetID)
	return nil
}

func (l Logging) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Recorder remembers calls. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	Calls []string // "growth:<id>" or "fits:<id>"
	Err   error    // returned from every call when set
}

func (r *Recorder) ComputeGrowthRates(_ context.Context, datasetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, "growth:"+datasetID)
	return r.Err
}

func (r *Recorder) ComputeDoseResponseFits(_ context.Context, datasetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, "fits:"+datasetID)
	return r.Err
}
