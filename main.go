// Command playlistwatch runs the background half of the playlist monitor:
// the provider client behind its quota and rate gates, the persistent store
// with its pressure monitor, the message router, the error governor, and the
// scheduled resync loop.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	daprc "github.com/dapr/go-sdk/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/playlistwatch/playlistwatch/bus"
	"github.com/playlistwatch/playlistwatch/client"
	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/config"
	"github.com/playlistwatch/playlistwatch/governor"
	"github.com/playlistwatch/playlistwatch/model"
	"github.com/playlistwatch/playlistwatch/quota"
	"github.com/playlistwatch/playlistwatch/ratelimit"
	"github.com/playlistwatch/playlistwatch/storage"
	"github.com/playlistwatch/playlistwatch/syncstore"
	"github.com/playlistwatch/playlistwatch/worker"
)

var (
	cfgFile  string
	logLevel string
	dbPath   string
	apiKey   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "playlistwatch",
		Short: "Monitor playlists for videos that become unavailable",
		PersistentPreRun: func(*cobra.Command, []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the sqlite database (overrides config)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "Catalog API key (overrides config)")

	root.AddCommand(newServeCmd(), newSyncCmd(), newMonitorCmd(), newUnmonitorCmd())
	return root
}

// applyFlagOverrides lets command-line flags win over the config file and
// environment for the two values most often set per invocation.
func applyFlagOverrides(cfg config.Config) config.Config {
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	return cfg
}

// services is the wired-up background stack shared by the commands.
type services struct {
	cfg      config.Config
	clock    clock.Clock
	store    *storage.Store
	kv       storage.KV
	router   *bus.Router
	governor *governor.Governor
	catalog  *client.CatalogClient
	worker   *worker.Service
	dapr     daprc.Client
}

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = applyFlagOverrides(cfg)

	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	clk := clock.New()
	router := bus.NewRouter()

	var kv storage.KV
	daprClient, err := daprc.NewClient()
	if err != nil {
		log.Warn().Err(err).Msg("Dapr sidecar unavailable, quota state will not persist across restarts")
		kv = storage.NewMemoryKV()
	} else {
		kv = storage.NewDaprKV(daprClient, cfg.Dapr.StateStore)
	}

	gov := governor.New(clk, router, governor.Config{
		MaxRetries:  cfg.Retry.MaxRetries,
		MinInterval: cfg.Retry.MinInterval,
		BaseDelay:   cfg.Retry.BaseDelay,
	})

	budget := quota.NewBudget(kv, clk, cfg.Quota.DailyLimit, cfg.Quota.WarningThreshold,
		func(payload model.QuotaWarningPayload) {
			router.Publish(model.Message{Type: model.MsgQuotaWarning, Payload: payload})
		})
	limiter := ratelimit.NewLimiter(clk, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	catalog, err := client.NewCatalogClient(ctx, cfg.APIKey, nil, limiter, budget)
	if err != nil {
		store.Close()
		return nil, err
	}

	svc := worker.NewService(clk, catalog, store, kv, router, gov)
	svc.Register(router)

	return &services{
		cfg:      cfg,
		clock:    clk,
		store:    store,
		kv:       kv,
		router:   router,
		governor: gov,
		catalog:  catalog,
		worker:   svc,
		dapr:     daprClient,
	}, nil
}

func (s *services) close() {
	s.governor.Dispose()
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
	if s.dapr != nil {
		s.dapr.Close()
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background services until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcs, err := buildServices(ctx)
			if err != nil {
				return err
			}
			defer svcs.close()

			monitor := storage.NewPressureMonitor(svcs.store, svcs.clock, storage.PressureMonitorConfig{
				WarningThreshold:  svcs.cfg.Storage.WarningThreshold,
				CriticalThreshold: svcs.cfg.Storage.CriticalThreshold,
				CheckInterval:     svcs.cfg.Storage.CheckInterval,
				Retention:         svcs.cfg.Storage.Retention,
				BytesPerRecord:    svcs.cfg.Storage.BytesPerRecord,
				FallbackQuota:     svcs.cfg.Storage.FallbackQuota,
			}, nil, svcs.router)
			monitor.Start(ctx)
			defer monitor.Stop()

			scheduler := worker.NewScheduler(svcs.clock, svcs.worker, svcs.cfg.SyncInterval)
			scheduler.Start(ctx)
			defer scheduler.Stop()

			startSyncListener(ctx, svcs)

			log.Info().Msg("Background services running")
			<-ctx.Done()
			log.Info().Msg("Shutting down")
			return nil
		},
	}
}

// startSyncListener connects the cross-device sync store and applies records
// written by other devices to the local store. Skipped when no sidecar is
// available.
func startSyncListener(ctx context.Context, svcs *services) {
	if svcs.dapr == nil {
		return
	}
	sync, err := syncstore.NewDaprStore(
		svcs.cfg.Dapr.SyncStore,
		svcs.cfg.Dapr.Pubsub,
		svcs.cfg.Dapr.SyncTopic,
		svcs.cfg.Dapr.AppPort,
	)
	if err != nil {
		log.Warn().Err(err).Msg("Cross-device sync unavailable")
		return
	}

	sync.Subscribe(func(ctx context.Context, data model.VideoSyncData) error {
		playlists, err := svcs.store.ListPlaylists(ctx)
		if err != nil {
			return err
		}
		removal := model.RemovalUnknown
		if data.Metadata.Reason == "private" {
			removal = model.RemovalPrivate
		}
		// The record carries no playlist; apply to every playlist that
		// tracks the video.
		for _, playlist := range playlists {
			err := svcs.store.UpdateVideoStatus(ctx, data.VideoID, playlist.PlaylistID, data.Status, removal)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
		}
		return nil
	})

	if err := sync.StartListening(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to start sync listener")
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <playlist-id>",
		Short: "Run one manual sync for a playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svcs.close()

			record, err := svcs.worker.SyncPlaylist(cmd.Context(), args[0], model.SyncManual)
			if err != nil {
				return err
			}
			log.Info().
				Str("playlist_id", args[0]).
				Int("added", record.Changes.Added).
				Int("removed", record.Changes.Removed).
				Int("quota_used", record.QuotaUsed).
				Msg("Sync finished")
			return nil
		},
	}
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor <playlist-id>",
		Short: "Add a playlist to the scheduled sync set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svcs.close()
			return svcs.worker.Monitor(cmd.Context(), args[0])
		},
	}
}

func newUnmonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmonitor <playlist-id>",
		Short: "Remove a playlist from the scheduled sync set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svcs.close()
			return svcs.worker.Unmonitor(cmd.Context(), args[0])
		},
	}
}
