// Package store persists sync run history.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one completed sync attempt against the booking site.
type Run struct {
	ID           uuid.UUID `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Status       string    `json:"status"`
	Reservations int       `json:"reservations"`
	ProxyServer  string    `json:"proxy_server,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Provider persists runs. Implementations must be safe for concurrent use.
type Provider interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close()
}
