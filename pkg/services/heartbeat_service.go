package services

import (
	"context"
	"time"

	"gpib-load-bridge/pkg/health"
	"gpib-load-bridge/pkg/logger"
)

// HeartbeatService keeps the retained availability topic fresh while the bus is online
type HeartbeatService struct {
	publisher     Publisher
	healthMonitor *health.BusHealthMonitor
	interval      time.Duration
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(publisher Publisher, healthMonitor *health.BusHealthMonitor, interval time.Duration) *HeartbeatService {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &HeartbeatService{
		publisher:     publisher,
		healthMonitor: healthMonitor,
		interval:      interval,
	}
}

// Start begins the heartbeat loop
func (s *HeartbeatService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.LogInfo("💓 Heartbeat service started with interval: %v", s.interval)

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("🔇 Heartbeat service stopped")
			return
		case <-ticker.C:
			s.SendHeartbeat(ctx)
		}
	}
}

// SendHeartbeat publishes "online" and a diagnostic keepalive; it is skipped while the bus is offline.
// Returns true when the heartbeat was published.
func (s *HeartbeatService) SendHeartbeat(ctx context.Context) bool {
	if !s.healthMonitor.IsOnline() {
		logger.LogDebug("💔 Skipping heartbeat - bus is offline")
		return false
	}

	if err := s.publisher.PublishStatusOnline(ctx); err != nil {
		logger.LogError("⚠️ Heartbeat failed: %v", err)
		return false
	}
	logger.LogDebug("💓 Heartbeat sent: online")

	if err := s.publisher.PublishDiagnostic(ctx, 0, "GPIB load bridge running"); err != nil {
		logger.LogDebug("⚠️ Diagnostic heartbeat failed: %v", err)
	}
	return true
}
