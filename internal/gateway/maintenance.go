// ABOUTME: Periodic maintenance: idle conversation eviction, replay purging and health probing
// ABOUTME: Runs every replay.cleanup_interval until the gateway stops

package gateway

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/converse-gateway/internal/replay"
)

func (g *Gateway) maintenanceLoop(ctx context.Context) {
	interval := g.config.Replay.CleanupInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.maintain(ctx, now)
		}
	}
}

// maintain runs one maintenance pass.
func (g *Gateway) maintain(ctx context.Context, now time.Time) {
	if n := g.conversation.Sweep(now); n > 0 {
		g.logger.Info("evicted idle conversations", "count", n)
	}

	if purger, ok := g.store.(replay.Purger); ok {
		n, err := purger.Purge(ctx)
		if err != nil {
			g.logger.Warn("replay purge failed", "error", err)
		} else if n > 0 {
			g.logger.Debug("purged expired replay logs", "count", n)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.store.Ping(pingCtx); err != nil {
		g.logger.Warn("replay store unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(HealthService, status)
}
