package worker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/model"
)

// DefaultSyncInterval is the wake-up cadence for full resynchronization.
const DefaultSyncInterval = time.Hour

// Scheduler periodically resyncs every monitored playlist.
type Scheduler struct {
	service  *Service
	clock    clock.Clock
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a scheduler over the background service. A zero
// interval means DefaultSyncInterval.
func NewScheduler(clk clock.Clock, service *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Scheduler{service: service, clock: clk, interval: interval}
}

// Start launches the periodic loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.clock.Ticker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	log.Info().Dur("interval", s.interval).Msg("Scheduled playlist sync started")
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// runOnce syncs every monitored playlist in turn. A single playlist's
// failure does not stop the rest; the sync engine already routed it to the
// error governor.
func (s *Scheduler) runOnce(ctx context.Context) {
	ids, err := s.service.MonitoredPlaylists(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load monitored playlists")
		s.service.errors.HandleError(err)
		return
	}
	if len(ids) == 0 {
		return
	}

	log.Info().Int("playlists", len(ids)).Msg("Running scheduled sync")
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.service.SyncPlaylist(ctx, id, model.SyncScheduled); err != nil {
			log.Warn().Err(err).Str("playlist_id", id).Msg("Scheduled sync failed for playlist")
		}
	}

	if _, err := s.service.VerifyUnavailable(ctx); err != nil {
		log.Warn().Err(err).Msg("Availability re-check failed")
	}
}
