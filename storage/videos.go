package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
)

// AddVideo inserts a new video record scoped to its playlist. The record is
// stored with an initialized status block and metadata; a record with the
// same (videoId, playlistId) key fails with ErrDuplicateRecord.
func (s *Store) AddVideo(ctx context.Context, video model.VideoRecord) error {
	if video.Status.Current == "" {
		video.Status.Current = model.StatusAvailable
	}
	if video.Status.LastChecked.IsZero() {
		video.Status.LastChecked = time.Now()
	}
	if video.Status.History == nil {
		video.Status.History = []model.StatusHistoryEntry{}
	}
	if video.Metadata.LastAvailable.IsZero() {
		video.Metadata.LastAvailable = time.Now()
	}

	history, err := json.Marshal(video.Status.History)
	if err != nil {
		return fmt.Errorf("failed to marshal status history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO videos (
			video_id, playlist_id, title, channel_id, channel_title,
			thumbnail_url, duration, added_at, position,
			status_current, last_checked, history,
			last_available, removal_type, user_removed, removed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		video.VideoID, video.PlaylistID, video.Title, video.ChannelID, video.ChannelTitle,
		video.ThumbnailURL, video.Duration, toMillis(video.AddedAt), video.Position,
		string(video.Status.Current), toMillis(video.Status.LastChecked), string(history),
		toMillis(video.Metadata.LastAvailable), string(video.Metadata.RemovalType),
		boolToInt(video.Metadata.UserRemoved), toMillis(video.Metadata.RemovedAt),
	)
	if err != nil {
		return storageErr("add video", err)
	}
	return nil
}

// UpdateVideoStatus appends a history entry and updates the current state and
// lastChecked for the record. Transitioning to UNAVAILABLE also stamps
// removedAt and removalType on the metadata. Fails with ErrNotFound when the
// record is absent.
func (s *Store) UpdateVideoStatus(ctx context.Context, videoID, playlistID string, status model.VideoStatus, reason model.RemovalType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin status update", err)
	}
	defer tx.Rollback()

	var rawHistory string
	err = tx.QueryRowContext(ctx,
		`SELECT history FROM videos WHERE video_id = ? AND playlist_id = ?`,
		videoID, playlistID,
	).Scan(&rawHistory)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return storageErr("fetch video for status update", err)
	}

	var history []model.StatusHistoryEntry
	if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
		return common.WrapError(common.KindStorage, "corrupt status history", err)
	}

	now := time.Now()
	history = append(history, model.StatusHistoryEntry{
		Status:    status,
		Timestamp: now,
		Reason:    reason,
	})
	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal status history: %w", err)
	}

	if status == model.StatusUnavailable {
		_, err = tx.ExecContext(ctx, `
			UPDATE videos
			SET status_current = ?, last_checked = ?, history = ?,
			    removed_at = ?, removal_type = ?
			WHERE video_id = ? AND playlist_id = ?`,
			string(status), toMillis(now), string(encoded),
			toMillis(now), string(reason),
			videoID, playlistID,
		)
	} else {
		userRemoved := status == model.StatusRemoved
		_, err = tx.ExecContext(ctx, `
			UPDATE videos
			SET status_current = ?, last_checked = ?, history = ?, user_removed = ?
			WHERE video_id = ? AND playlist_id = ?`,
			string(status), toMillis(now), string(encoded), boolToInt(userRemoved),
			videoID, playlistID,
		)
	}
	if err != nil {
		return storageErr("update video status", err)
	}
	return tx.Commit()
}

// GetVideo fetches one record by composite key.
func (s *Store) GetVideo(ctx context.Context, videoID, playlistID string) (*model.VideoRecord, error) {
	row := s.db.QueryRowContext(ctx, selectVideo+` WHERE video_id = ? AND playlist_id = ?`, videoID, playlistID)
	rec, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get video", err)
	}
	return rec, nil
}

// GetPlaylistVideos returns all records tracked for a playlist.
func (s *Store) GetPlaylistVideos(ctx context.Context, playlistID string) ([]model.VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectVideo+` WHERE playlist_id = ?`, playlistID)
	if err != nil {
		return nil, storageErr("list playlist videos", err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

// GetVideosByStatus returns all records currently in the given state.
func (s *Store) GetVideosByStatus(ctx context.Context, status model.VideoStatus) ([]model.VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectVideo+` WHERE status_current = ?`, string(status))
	if err != nil {
		return nil, storageErr("list videos by status", err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

// RemoveVideo deletes a record by composite key. Deleting a missing key is a
// no-op.
func (s *Store) RemoveVideo(ctx context.Context, videoID, playlistID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM videos WHERE video_id = ? AND playlist_id = ?`,
		videoID, playlistID,
	)
	if err != nil {
		return storageErr("remove video", err)
	}
	return nil
}

const selectVideo = `
	SELECT video_id, playlist_id, title, channel_id, channel_title,
	       thumbnail_url, duration, added_at, position,
	       status_current, last_checked, history,
	       last_available, removal_type, user_removed, removed_at
	FROM videos`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*model.VideoRecord, error) {
	var (
		rec                                            model.VideoRecord
		addedAt, lastChecked, lastAvailable, removedAt int64
		statusCurrent, rawHistory, removalType         string
		userRemoved                                    int
	)
	err := row.Scan(
		&rec.VideoID, &rec.PlaylistID, &rec.Title, &rec.ChannelID, &rec.ChannelTitle,
		&rec.ThumbnailURL, &rec.Duration, &addedAt, &rec.Position,
		&statusCurrent, &lastChecked, &rawHistory,
		&lastAvailable, &removalType, &userRemoved, &removedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.AddedAt = fromMillis(addedAt)
	rec.Status.Current = model.VideoStatus(statusCurrent)
	rec.Status.LastChecked = fromMillis(lastChecked)
	if err := json.Unmarshal([]byte(rawHistory), &rec.Status.History); err != nil {
		return nil, fmt.Errorf("corrupt status history: %w", err)
	}
	rec.Metadata.LastAvailable = fromMillis(lastAvailable)
	rec.Metadata.RemovalType = model.RemovalType(removalType)
	rec.Metadata.UserRemoved = userRemoved != 0
	rec.Metadata.RemovedAt = fromMillis(removedAt)
	return &rec, nil
}

func collectVideos(rows *sql.Rows) ([]model.VideoRecord, error) {
	var out []model.VideoRecord
	for rows.Next() {
		rec, err := scanVideo(rows)
		if err != nil {
			return nil, storageErr("scan video", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate videos", err)
	}
	return out, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
