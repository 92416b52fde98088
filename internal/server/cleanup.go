package server

import (
	"context"
	"time"

	"app-catalog-drop/internal/logging"
)

// AuditPruner deletes save events older than a cutoff.
type AuditPruner interface {
	PruneSaves(ctx context.Context, before time.Time) (int64, error)
}

// RetentionConfig holds configuration for the audit retention job
type RetentionConfig struct {
	MaxAge   time.Duration // 0 disables the job
	Interval time.Duration
}

// StartAuditRetention blocks, pruning old save events every Interval until
// ctx is done.
func StartAuditRetention(ctx context.Context, p AuditPruner, cfg RetentionConfig) {
	if p == nil || cfg.MaxAge <= 0 {
		logging.Info("audit_retention_disabled", nil)
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}

	logging.Info("audit_retention_starting", map[string]any{
		"interval": cfg.Interval.String(),
		"max_age":  cfg.MaxAge.String(),
	})

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start
	runRetention(ctx, p, cfg.MaxAge, time.Now)

	for {
		select {
		case <-ctx.Done():
			logging.Info("audit_retention_stopped", nil)
			return
		case <-ticker.C:
			runRetention(ctx, p, cfg.MaxAge, time.Now)
		}
	}
}

func runRetention(ctx context.Context, p AuditPruner, maxAge time.Duration, now func() time.Time) int64 {
	start := time.Now()
	cutoff := now().Add(-maxAge)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := p.PruneSaves(ctx, cutoff)
	if err != nil {
		logging.Warn("audit_retention_failed", map[string]any{"error": err.Error()})
		return 0
	}

	logging.Info("audit_retention_complete", map[string]any{
		"deleted":     deleted,
		"cutoff":      cutoff.UTC().Format(time.RFC3339),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return deleted
}
