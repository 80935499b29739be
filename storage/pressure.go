package storage

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
)

// Estimate is a storage usage snapshot.
type Estimate struct {
	Usage int64
	Quota int64
}

// EstimateFunc is a platform-provided usage/quota estimate. When nil or
// failing, the monitor falls back to record counts times an assumed
// per-record size.
type EstimateFunc func(ctx context.Context) (Estimate, error)

// EventSink receives the monitor's warning and critical notifications.
type EventSink interface {
	Publish(msg model.Message)
}

// PressureMonitorConfig tunes the monitor thresholds and retention window.
type PressureMonitorConfig struct {
	WarningThreshold  float64
	CriticalThreshold float64
	CheckInterval     time.Duration
	Retention         time.Duration
	BytesPerRecord    int64
	FallbackQuota     int64
}

// PressureMonitor periodically estimates storage usage and reacts to
// pressure: a warning notification at the warning threshold, and automatic
// retention cleanup plus a critical notification at the critical threshold.
type PressureMonitor struct {
	store    *Store
	clock    clock.Clock
	cfg      PressureMonitorConfig
	estimate EstimateFunc
	sink     EventSink

	ticker *clock.Ticker
	done   chan struct{}
}

// NewPressureMonitor builds a monitor over the given store.
func NewPressureMonitor(store *Store, clk clock.Clock, cfg PressureMonitorConfig, estimate EstimateFunc, sink EventSink) *PressureMonitor {
	return &PressureMonitor{
		store:    store,
		clock:    clk,
		cfg:      cfg,
		estimate: estimate,
		sink:     sink,
	}
}

// Start runs an initial check, then checks on the configured interval until
// Stop is called or ctx is canceled. Check failures are logged, never fatal
// to the loop.
func (m *PressureMonitor) Start(ctx context.Context) {
	if err := m.CheckStorageUsage(ctx); err != nil {
		log.Error().Err(err).Msg("Initial storage check failed")
	}

	m.ticker = m.clock.Ticker(m.cfg.CheckInterval)
	m.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-m.ticker.C:
				if err := m.CheckStorageUsage(ctx); err != nil {
					log.Error().Err(err).Msg("Periodic storage check failed")
				}
			}
		}
	}()
}

// Stop halts the periodic loop. Safe to call when Start never ran.
func (m *PressureMonitor) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
}

// CheckStorageUsage estimates usage and walks the threshold paths.
func (m *PressureMonitor) CheckStorageUsage(ctx context.Context) error {
	return m.check(ctx, true)
}

func (m *PressureMonitor) check(ctx context.Context, allowCleanup bool) error {
	est, err := m.getEstimate(ctx)
	if err != nil {
		return err
	}
	ratio := float64(est.Usage) / float64(est.Quota)

	log.Debug().
		Int64("usage", est.Usage).
		Int64("quota", est.Quota).
		Float64("ratio", ratio).
		Msg("Storage usage check")

	switch {
	case ratio >= m.cfg.CriticalThreshold:
		m.notify("critical", est)
		if allowCleanup {
			if err := m.autoCleanup(ctx); err != nil {
				return err
			}
			// Re-check once after cleanup; a second cleanup pass would
			// delete nothing new within the same retention window.
			return m.check(ctx, false)
		}
	case ratio >= m.cfg.WarningThreshold:
		m.notify("warning", est)
	}
	return nil
}

func (m *PressureMonitor) autoCleanup(ctx context.Context) error {
	cutoff := m.clock.Now().Add(-m.cfg.Retention)
	auditRemoved, syncRemoved, err := m.store.CleanupBefore(ctx, cutoff)
	if err != nil {
		return common.WrapError(common.KindStorage, "automatic cleanup failed", err)
	}
	log.Info().
		Int64("audit_removed", auditRemoved).
		Int64("sync_removed", syncRemoved).
		Msg("Automatic storage cleanup finished")
	return nil
}

func (m *PressureMonitor) getEstimate(ctx context.Context) (Estimate, error) {
	if m.estimate != nil {
		est, err := m.estimate(ctx)
		if err == nil && est.Quota > 0 {
			return est, nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("Platform storage estimate unavailable, falling back to record counts")
		}
	}

	counts, err := m.store.RecordCounts(ctx)
	if err != nil {
		return Estimate{}, common.WrapError(common.KindStorage, "failed to estimate storage usage", err)
	}
	var total int64
	for _, n := range counts {
		total += n * m.cfg.BytesPerRecord
	}
	return Estimate{Usage: total, Quota: m.cfg.FallbackQuota}, nil
}

func (m *PressureMonitor) notify(level string, est Estimate) {
	if m.sink == nil {
		return
	}
	m.sink.Publish(model.Message{
		Type: model.MsgErrorStatus,
		Payload: model.ErrorStatusPayload{
			ErrorType: string(common.KindStorageQuota),
			Component: "storage",
			Timestamp: m.clock.Now(),
			Details: map[string]any{
				"usage": est.Usage,
				"quota": est.Quota,
				"level": level,
			},
		},
	})
}
