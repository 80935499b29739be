package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
)

// SyncPlaylist reconciles the stored view of one playlist against the
// provider: new videos are added, videos gone from the remote playlist are
// marked unavailable. Every run leaves a SyncMetadataRecord, IN_PROGRESS
// while running and SUCCESS or FAILURE afterwards.
func (s *Service) SyncPlaylist(ctx context.Context, playlistID string, syncType model.SyncType) (*model.SyncMetadataRecord, error) {
	start := s.clock.Now()
	record := model.SyncMetadataRecord{
		ID:         uuid.New().String(),
		PlaylistID: playlistID,
		Timestamp:  start,
		Status:     model.SyncInProgress,
		Type:       syncType,
	}
	if err := s.store.PutSyncMetadata(ctx, record); err != nil {
		return nil, err
	}

	s.events.Publish(model.Message{
		Type:    model.MsgSyncStatus,
		Payload: model.SyncStatusPayload{PlaylistID: playlistID, Status: "in_progress"},
	})
	log.Info().
		Str("playlist_id", playlistID).
		Str("type", string(syncType)).
		Msg("Starting playlist sync")

	changes, quotaUsed, err := s.runSync(ctx, playlistID, record.ID)
	record.Changes = changes
	record.QuotaUsed = quotaUsed
	record.Duration = s.clock.Now().Sub(start)

	if err != nil {
		record.Status = model.SyncFailure
		record.Error = err.Error()
		if putErr := s.store.PutSyncMetadata(ctx, record); putErr != nil {
			log.Error().Err(putErr).Msg("Failed to finalize sync metadata")
		}
		s.events.Publish(model.Message{
			Type:    model.MsgSyncStatus,
			Payload: model.SyncStatusPayload{PlaylistID: playlistID, Status: "error", Error: err.Error()},
		})
		s.errors.HandleError(wrapSyncError(err, playlistID))
		return &record, err
	}

	record.Status = model.SyncSuccess
	if err := s.store.PutSyncMetadata(ctx, record); err != nil {
		return &record, err
	}
	s.events.Publish(model.Message{
		Type:    model.MsgSyncStatus,
		Payload: model.SyncStatusPayload{PlaylistID: playlistID, Status: "completed", Progress: 1},
	})
	s.errors.ResetRetries("sync", "syncPlaylist")
	s.audit(ctx, "sync_completed", playlistID,
		fmt.Sprintf("added=%d removed=%d", changes.Added, changes.Removed))

	log.Info().
		Str("playlist_id", playlistID).
		Int("added", changes.Added).
		Int("removed", changes.Removed).
		Dur("duration", record.Duration).
		Int("quota_used", quotaUsed).
		Msg("Playlist sync completed")
	return &record, nil
}

func (s *Service) runSync(ctx context.Context, playlistID, runID string) (model.SyncChanges, int, error) {
	var changes model.SyncChanges
	quotaUsed := 0

	details, err := s.catalog.GetPlaylistDetails(ctx, playlistID)
	if err != nil {
		return changes, quotaUsed, err
	}
	quotaUsed++

	if err := s.store.UpsertPlaylist(ctx, model.Playlist{
		PlaylistID: details.ID,
		Title:      details.Title,
		ItemCount:  details.ItemCount,
		LastSynced: s.clock.Now(),
		Status:     "active",
	}); err != nil {
		return changes, quotaUsed, err
	}

	// Pagination is sequential by construction: each page's cursor comes
	// from the prior response.
	remote := make(map[string]model.VideoRecord)
	pageToken := ""
	for {
		page, err := s.catalog.GetPlaylistItems(ctx, playlistID, pageToken)
		if err != nil {
			return changes, quotaUsed, err
		}
		quotaUsed++
		for _, item := range page.Items {
			remote[item.VideoID] = item
		}

		if details.ItemCount > 0 {
			s.events.Publish(model.Message{
				Type: model.MsgSyncStatus,
				Payload: model.SyncStatusPayload{
					PlaylistID: playlistID,
					Status:     "in_progress",
					Progress:   float64(len(remote)) / float64(details.ItemCount),
				},
			})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	local, err := s.store.GetPlaylistVideos(ctx, playlistID)
	if err != nil {
		return changes, quotaUsed, err
	}
	localByID := make(map[string]model.VideoRecord, len(local))
	for _, video := range local {
		localByID[video.VideoID] = video
	}

	for videoID, video := range remote {
		if _, ok := localByID[videoID]; ok {
			continue
		}
		if err := s.store.AddVideo(ctx, video); err != nil {
			return changes, quotaUsed, err
		}
		changes.Added++
	}

	for videoID, video := range localByID {
		if _, ok := remote[videoID]; ok {
			continue
		}
		if video.Status.Current != model.StatusAvailable {
			continue
		}
		err := s.store.UpdateVideoStatus(ctx, videoID, playlistID, model.StatusUnavailable, model.RemovalUnknown)
		if err != nil {
			return changes, quotaUsed, err
		}
		changes.Removed++
	}

	log.Debug().
		Str("playlist_id", playlistID).
		Str("run_id", runID).
		Int("remote_count", len(remote)).
		Int("local_count", len(local)).
		Msg("Playlist diff applied")
	return changes, quotaUsed, nil
}

func wrapSyncError(err error, playlistID string) error {
	details := map[string]any{"playlistId": playlistID}
	var ce *common.ClassifiedError
	// Quota errors keep their kind so the governor defers to the daily
	// reset instead of scheduling a retry.
	if errors.As(err, &ce) && ce.Kind == common.KindQuota {
		return ce.WithContext("sync", "syncPlaylist", details)
	}
	return common.WrapError(common.KindSync, "playlist sync failed", err).
		WithContext("sync", "syncPlaylist", details)
}
