// Package cleanup provides the background data-retention service.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
)

// Service periodically deletes inactive sessions older than the retention
// window. The same operation is exposed manually via POST /db/cleanup; this
// loop just runs it on a schedule. Idempotent.
type Service struct {
	store         *store.Store
	retentionDays int
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. retentionDays <= 0 disables it.
func NewService(st *store.Store, retentionDays int, interval time.Duration) *Service {
	return &Service{
		store:         st,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Start launches the background cleanup loop. No-op when disabled or
// already running.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil || s.retentionDays <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_days", s.retentionDays,
		"interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.store.CleanupOldSessions(ctx, s.retentionDays)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed old sessions", "count", count)
	}
}
