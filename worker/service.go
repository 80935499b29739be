// Package worker hosts the background services: message handlers for the
// page contexts, the playlist sync engine, and the scheduled resync loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/playlistwatch/playlistwatch/bus"
	"github.com/playlistwatch/playlistwatch/client"
	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
	"github.com/playlistwatch/playlistwatch/storage"
)

// Catalog is the provider surface the worker consumes.
type Catalog interface {
	GetPlaylistDetails(ctx context.Context, playlistID string) (*model.PlaylistDetails, error)
	GetPlaylistItems(ctx context.Context, playlistID, pageToken string) (*client.PlaylistItemsPage, error)
	GetVideoDetails(ctx context.Context, videoIDs []string) ([]model.VideoRecord, error)
}

// ErrorSink routes retryable conditions to the central error governor.
type ErrorSink interface {
	HandleError(err error)
	ResetRetries(component, operation string)
}

// EventSink publishes fire-and-forget status events toward page surfaces.
type EventSink interface {
	Publish(msg model.Message)
}

// monitoredKey is the key-value entry holding the monitored playlist ids.
const monitoredKey = "monitoredPlaylists"

// settingsID is the single settings record's id.
const settingsID = "default"

// verifyConcurrency bounds parallel per-video verification.
const verifyConcurrency = 4

// Service wires the background handlers together.
type Service struct {
	catalog Catalog
	store   *storage.Store
	kv      storage.KV
	events  EventSink
	errors  ErrorSink
	clock   clock.Clock
}

// NewService builds the background service.
func NewService(clk clock.Clock, catalog Catalog, store *storage.Store, kv storage.KV, events EventSink, errors ErrorSink) *Service {
	return &Service{
		catalog: catalog,
		store:   store,
		kv:      kv,
		events:  events,
		errors:  errors,
		clock:   clk,
	}
}

// Register attaches the service's handlers to the message router.
func (s *Service) Register(router *bus.Router) {
	router.Register(model.MsgSyncRequest, s.handleSyncRequest)
	router.Register(model.MsgVideoAdded, s.handleVideoAdded)
	router.Register(model.MsgVideoRemoved, s.handleVideoRemoved)
	router.Register(model.MsgVerifyVideo, s.handleVerifyVideo)
	router.Register(model.MsgSettingsGet, s.handleSettingsGet)
	router.Register(model.MsgSettingsUpdate, s.handleSettingsUpdate)
	router.Register(model.MsgErrorRetry, s.handleErrorRetry)
}

// handleErrorRetry re-runs an operation the error governor scheduled for
// another attempt. Only sync retries carry enough context to re-dispatch;
// anything else is logged and dropped.
func (s *Service) handleErrorRetry(ctx context.Context, payload any) (any, error) {
	retry, ok := payload.(model.ErrorRetryPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}

	if retry.Component == "sync" && retry.Operation == "syncPlaylist" {
		playlistID, _ := retry.Context["playlistId"].(string)
		if playlistID == "" {
			return nil, fmt.Errorf("sync retry carries no playlist id")
		}
		log.Info().Str("playlist_id", playlistID).Msg("Retrying playlist sync")
		return s.SyncPlaylist(ctx, playlistID, model.SyncRecovery)
	}

	log.Warn().
		Str("component", retry.Component).
		Str("operation", retry.Operation).
		Msg("No retry handler for operation")
	return nil, nil
}

func (s *Service) handleSyncRequest(ctx context.Context, payload any) (any, error) {
	req, ok := payload.(model.SyncRequestPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}
	record, err := s.SyncPlaylist(ctx, req.PlaylistID, model.SyncManual)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// handleVideoAdded resolves provider details for a newly observed video and
// stores it under the reporting playlist.
func (s *Service) handleVideoAdded(ctx context.Context, payload any) (any, error) {
	added, ok := payload.(model.VideoAddedPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}

	videos, err := s.catalog.GetVideoDetails(ctx, []string{added.VideoID})
	if err != nil {
		s.errors.HandleError(err)
		return nil, err
	}
	if len(videos) == 0 {
		return nil, common.NewError(common.KindNotFound, "Resource not found").
			WithContext("worker", "handleVideoAdded", map[string]any{"videoId": added.VideoID})
	}

	video := videos[0]
	video.PlaylistID = added.PlaylistID
	if !added.Timestamp.IsZero() {
		video.AddedAt = added.Timestamp
	}
	if err := s.store.AddVideo(ctx, video); err != nil {
		if common.IsKind(err, common.KindStorage) {
			s.errors.HandleError(err)
		}
		return nil, err
	}

	s.audit(ctx, "video_added", added.PlaylistID, added.VideoID)
	log.Info().
		Str("video_id", added.VideoID).
		Str("playlist_id", added.PlaylistID).
		Msg("Stored newly observed video")
	return video, nil
}

// handleVideoRemoved marks a video REMOVED when the user took it out, or
// UNAVAILABLE when it vanished without user action.
func (s *Service) handleVideoRemoved(ctx context.Context, payload any) (any, error) {
	removed, ok := payload.(model.VideoRemovedPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}

	status := model.StatusUnavailable
	reason := model.RemovalUnknown
	if removed.UserInitiated {
		status = model.StatusRemoved
		reason = model.RemovalUser
	}
	if err := s.store.UpdateVideoStatus(ctx, removed.VideoID, removed.PlaylistID, status, reason); err != nil {
		return nil, err
	}

	s.audit(ctx, "video_removed", removed.PlaylistID, removed.VideoID+" "+string(reason))
	return nil, nil
}

// handleVerifyVideo checks whether a video is still served by the provider.
// A missing or 404ing video counts as unavailable, not as a handler failure.
func (s *Service) handleVerifyVideo(ctx context.Context, payload any) (any, error) {
	verify, ok := payload.(model.VerifyVideoPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}

	videos, err := s.catalog.GetVideoDetails(ctx, []string{verify.VideoID})
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return model.VerifyVideoResult{Available: false, Reason: "deleted"}, nil
		}
		s.errors.HandleError(err)
		return nil, err
	}
	if len(videos) == 0 {
		// The provider silently omits private and deleted videos from
		// batch detail responses.
		return model.VerifyVideoResult{Available: false, Reason: "unknown"}, nil
	}
	return model.VerifyVideoResult{Available: true}, nil
}

func (s *Service) handleSettingsGet(ctx context.Context, _ any) (any, error) {
	settings, err := s.store.GetSettings(ctx, settingsID)
	if err != nil {
		return nil, err
	}
	return *settings, nil
}

func (s *Service) handleSettingsUpdate(ctx context.Context, payload any) (any, error) {
	settings, ok := payload.(model.UserSettings)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}
	if settings.ID == "" {
		settings.ID = settingsID
	}
	if err := s.store.PutSettings(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// VerifyUnavailable re-checks every locally UNAVAILABLE video against the
// provider and restores the ones that came back. Verification runs
// concurrently, bounded, per video.
func (s *Service) VerifyUnavailable(ctx context.Context) (restored int, err error) {
	videos, err := s.store.GetVideosByStatus(ctx, model.StatusUnavailable)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	results := make(chan model.VideoRecord, len(videos))

	for _, video := range videos {
		video := video
		g.Go(func() error {
			details, err := s.catalog.GetVideoDetails(gctx, []string{video.VideoID})
			if err != nil {
				if common.IsKind(err, common.KindNotFound) {
					return nil
				}
				return err
			}
			if len(details) > 0 {
				results <- video
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.errors.HandleError(err)
		return 0, err
	}
	close(results)

	for video := range results {
		if err := s.store.UpdateVideoStatus(ctx, video.VideoID, video.PlaylistID, model.StatusAvailable, ""); err != nil {
			return restored, err
		}
		restored++
	}
	if restored > 0 {
		log.Info().Int("restored", restored).Msg("Restored videos that became available again")
	}
	return restored, nil
}

// MonitoredPlaylists reads the monitored playlist ids from the key-value
// store. A missing key is an empty list.
func (s *Service) MonitoredPlaylists(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, monitoredKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitored playlists: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode monitored playlists: %w", err)
	}
	return ids, nil
}

// Monitor adds a playlist to the monitored set.
func (s *Service) Monitor(ctx context.Context, playlistID string) error {
	ids, err := s.MonitoredPlaylists(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == playlistID {
			return nil
		}
	}
	ids = append(ids, playlistID)
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode monitored playlists: %w", err)
	}
	return s.kv.Set(ctx, monitoredKey, raw)
}

// Unmonitor removes a playlist from the monitored set.
func (s *Service) Unmonitor(ctx context.Context, playlistID string) error {
	ids, err := s.MonitoredPlaylists(ctx)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != playlistID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to encode monitored playlists: %w", err)
	}
	return s.kv.Set(ctx, monitoredKey, raw)
}

func (s *Service) audit(ctx context.Context, auditType, playlistID, detail string) {
	entry := model.AuditLogEntry{
		ID:         uuid.New().String(),
		Timestamp:  s.clock.Now(),
		Type:       auditType,
		PlaylistID: playlistID,
		Detail:     detail,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		log.Warn().Err(err).Str("type", auditType).Msg("Failed to append audit entry")
	}
}
