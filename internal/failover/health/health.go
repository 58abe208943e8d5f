// Package health tracks whether the primary store is reachable and reports
// the state of the failover layer.
package health

import (
	"time"

	"github.com/vietddude/cafepos/internal/infra/storage"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// State is a point-in-time copy of the primary store's health.
type State struct {
	PreferPrimary       bool      `json:"prefer_primary"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	CooldownUntil       time.Time `json:"cooldown_until,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
}

// Transition is delivered to subscribers when the primary flips between
// reachable and unreachable.
type Transition struct {
	Recovered bool
	State     State
}

// Report contains the full health report of the data-access layer.
type Report struct {
	Status  SystemStatus     `json:"status"`
	Primary State            `json:"primary"`
	Log     storage.LogStats `json:"log"`
	Stale   bool             `json:"stale"`
	Error   string           `json:"error,omitempty"`
}
