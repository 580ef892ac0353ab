package httpapi

import (
	"time"

	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/signals"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string                   `json:"status"` // ok, degraded
	Timestamp   time.Time                `json:"timestamp"`
	Checks      map[string]string        `json:"checks"`
	Circuits    map[string]CircuitHealth `json:"circuits"`
	LastCycle   string                   `json:"last_cycle,omitempty"`
	LastCycleAt *time.Time               `json:"last_cycle_at,omitempty"`
	Clients     int                      `json:"stream_clients"`
}

// CircuitHealth represents circuit breaker status
type CircuitHealth struct {
	Name     string `json:"name"`
	State    string `json:"state"` // closed, open, half-open
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
}

// TargetsResponse lists the targets of the latest cycle
type TargetsResponse struct {
	CycleID string             `json:"cycle_id"`
	AsOf    time.Time          `json:"as_of"`
	Targets []execution.Target `json:"targets"`
	Skipped []string           `json:"skipped,omitempty"`
}

// TargetResponse is one symbol's target with the signals behind it
type TargetResponse struct {
	CycleID string                  `json:"cycle_id"`
	AsOf    time.Time               `json:"as_of"`
	Target  execution.Target        `json:"target"`
	Signals signals.CombinedSignals `json:"signals"`
}

// CycleMessage is pushed to stream clients after every published cycle
type CycleMessage struct {
	Type    string             `json:"type"`
	CycleID string             `json:"cycle_id"`
	AsOf    time.Time          `json:"as_of"`
	Targets []execution.Target `json:"targets"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
