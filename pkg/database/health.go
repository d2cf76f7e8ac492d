package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus describes database reachability for the health endpoint.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Health pings the database with the caller's deadline and reports latency.
func Health(ctx context.Context, db *sql.DB) (HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	status := HealthStatus{
		Connected: err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
		return status, err
	}
	return status, nil
}
