package store

import (
	"context"
	"fmt"
)

// Stats aggregates persisted totals for the stats endpoint.
type Stats struct {
	TotalSessions  int64            `json:"totalSessions"`
	ActiveSessions int64            `json:"activeSessions"`
	TotalMessages  int64            `json:"totalMessages"`
	TotalCostUSD   float64          `json:"totalCostUsd"`
	MessagesByType map[string]int64 `json:"messagesByType"`
}

// Stats computes totals, the cost sum across all rows with a cost, and a
// per-type message breakdown.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{MessagesByType: make(map[string]int64)}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE is_active = 1),
			(SELECT COUNT(*) FROM messages),
			(SELECT COALESCE(SUM(cost), 0) FROM messages WHERE cost IS NOT NULL)`)
	if err := row.Scan(&stats.TotalSessions, &stats.ActiveSessions,
		&stats.TotalMessages, &stats.TotalCostUSD); err != nil {
		return nil, fmt.Errorf("computing totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM messages GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("computing type breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ   string
			count int64
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("scanning type row: %w", err)
		}
		stats.MessagesByType[typ] = count
	}
	return stats, rows.Err()
}
