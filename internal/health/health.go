// Package health implements the synchronous dependency probes consumed by
// the monitoring layer: each external collaborator answers Healthy, Degraded
// or Unhealthy with a reason.
package health

import (
	"context"
	"time"
)

// State is the coarse probe answer.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is one probe result.
type Status struct {
	State     State     `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	probeTimeout   = 5 * time.Second
	degradedBeyond = 2 * time.Second
)

// Probe runs one synchronous check. A slow but successful ping reports
// degraded; a failed one reports unhealthy with the error as reason.
func Probe(ctx context.Context, p Pinger) Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	elapsed := time.Since(start)

	st := Status{
		LatencyMS: elapsed.Milliseconds(),
		CheckedAt: time.Now().UTC(),
	}
	switch {
	case err != nil:
		st.State = StateUnhealthy
		st.Reason = err.Error()
	case elapsed > degradedBeyond:
		st.State = StateDegraded
		st.Reason = "slow response"
	default:
		st.State = StateHealthy
	}
	return st
}
