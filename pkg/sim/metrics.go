package sim

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per completed engine operation.
// Implementations must be safe for concurrent use; runs execute in
// parallel.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Observe(context.Context, string, bool, time.Duration) {}
