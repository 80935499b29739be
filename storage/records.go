package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
)

// UpsertPlaylist creates or refreshes a monitored playlist record.
func (s *Store) UpsertPlaylist(ctx context.Context, p model.Playlist) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlists (playlist_id, title, item_count, last_synced, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(playlist_id) DO UPDATE SET
			title = excluded.title,
			item_count = excluded.item_count,
			last_synced = excluded.last_synced,
			status = excluded.status`,
		p.PlaylistID, p.Title, p.ItemCount, toMillis(p.LastSynced), p.Status,
	)
	if err != nil {
		return storageErr("upsert playlist", err)
	}
	return nil
}

// GetPlaylist fetches a playlist record by id.
func (s *Store) GetPlaylist(ctx context.Context, playlistID string) (*model.Playlist, error) {
	var (
		p          model.Playlist
		lastSynced int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT playlist_id, title, item_count, last_synced, status FROM playlists WHERE playlist_id = ?`,
		playlistID,
	).Scan(&p.PlaylistID, &p.Title, &p.ItemCount, &lastSynced, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get playlist", err)
	}
	p.LastSynced = fromMillis(lastSynced)
	return &p, nil
}

// ListPlaylists returns all monitored playlists.
func (s *Store) ListPlaylists(ctx context.Context) ([]model.Playlist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT playlist_id, title, item_count, last_synced, status FROM playlists`)
	if err != nil {
		return nil, storageErr("list playlists", err)
	}
	defer rows.Close()

	var out []model.Playlist
	for rows.Next() {
		var (
			p          model.Playlist
			lastSynced int64
		)
		if err := rows.Scan(&p.PlaylistID, &p.Title, &p.ItemCount, &lastSynced, &p.Status); err != nil {
			return nil, storageErr("scan playlist", err)
		}
		p.LastSynced = fromMillis(lastSynced)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate playlists", err)
	}
	return out, nil
}

// PutSyncMetadata inserts or replaces a sync run record. A run is written
// once as IN_PROGRESS and replaced with its final state when it completes.
func (s *Store) PutSyncMetadata(ctx context.Context, rec model.SyncMetadataRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (
			id, playlist_id, timestamp, status, type,
			added, removed, status_changed, error, duration_ms, quota_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			added = excluded.added,
			removed = excluded.removed,
			status_changed = excluded.status_changed,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			quota_used = excluded.quota_used`,
		rec.ID, rec.PlaylistID, toMillis(rec.Timestamp), string(rec.Status), string(rec.Type),
		rec.Changes.Added, rec.Changes.Removed, rec.Changes.StatusChanged,
		rec.Error, rec.Duration.Milliseconds(), rec.QuotaUsed,
	)
	if err != nil {
		return storageErr("put sync metadata", err)
	}
	return nil
}

// ListSyncMetadata returns sync run records for a playlist, newest first.
func (s *Store) ListSyncMetadata(ctx context.Context, playlistID string) ([]model.SyncMetadataRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playlist_id, timestamp, status, type,
		       added, removed, status_changed, error, duration_ms, quota_used
		FROM sync_metadata WHERE playlist_id = ? ORDER BY timestamp DESC`,
		playlistID)
	if err != nil {
		return nil, storageErr("list sync metadata", err)
	}
	defer rows.Close()

	var out []model.SyncMetadataRecord
	for rows.Next() {
		var (
			rec              model.SyncMetadataRecord
			ts, durationMs   int64
			status, syncType string
		)
		if err := rows.Scan(&rec.ID, &rec.PlaylistID, &ts, &status, &syncType,
			&rec.Changes.Added, &rec.Changes.Removed, &rec.Changes.StatusChanged,
			&rec.Error, &durationMs, &rec.QuotaUsed); err != nil {
			return nil, storageErr("scan sync metadata", err)
		}
		rec.Timestamp = fromMillis(ts)
		rec.Status = model.SyncStatus(status)
		rec.Type = model.SyncType(syncType)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate sync metadata", err)
	}
	return out, nil
}

// AppendAudit appends an audit log entry.
func (s *Store) AppendAudit(ctx context.Context, entry model.AuditLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, timestamp, type, playlist_id, detail) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, toMillis(entry.Timestamp), entry.Type, entry.PlaylistID, entry.Detail,
	)
	if err != nil {
		return storageErr("append audit entry", err)
	}
	return nil
}

// GetSettings fetches the settings record, or defaults if none is stored yet.
func (s *Store) GetSettings(ctx context.Context, id string) (*model.UserSettings, error) {
	var (
		settings                   model.UserSettings
		notifications, autoCleanup int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, notifications_enabled, auto_cleanup_enabled, sync_interval_minutes
		FROM user_settings WHERE id = ?`, id,
	).Scan(&settings.ID, &notifications, &autoCleanup, &settings.SyncIntervalMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.UserSettings{
			ID:                   id,
			NotificationsEnabled: true,
			AutoCleanupEnabled:   true,
			SyncIntervalMinutes:  60,
		}, nil
	}
	if err != nil {
		return nil, storageErr("get settings", err)
	}
	settings.NotificationsEnabled = notifications != 0
	settings.AutoCleanupEnabled = autoCleanup != 0
	return &settings, nil
}

// PutSettings stores the settings record.
func (s *Store) PutSettings(ctx context.Context, settings model.UserSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (id, notifications_enabled, auto_cleanup_enabled, sync_interval_minutes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			notifications_enabled = excluded.notifications_enabled,
			auto_cleanup_enabled = excluded.auto_cleanup_enabled,
			sync_interval_minutes = excluded.sync_interval_minutes`,
		settings.ID, boolToInt(settings.NotificationsEnabled),
		boolToInt(settings.AutoCleanupEnabled), settings.SyncIntervalMinutes,
	)
	if err != nil {
		return storageErr("put settings", err)
	}
	return nil
}

// CleanupBefore deletes audit log entries and sync metadata older than the
// cutoff, returning how many rows each table lost.
func (s *Store) CleanupBefore(ctx context.Context, cutoff time.Time) (auditRemoved, syncRemoved int64, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, 0, storageErr("clean audit log", err)
	}
	auditRemoved, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM sync_metadata WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return auditRemoved, 0, storageErr("clean sync metadata", err)
	}
	syncRemoved, _ = res.RowsAffected()

	log.Info().
		Int64("audit_removed", auditRemoved).
		Int64("sync_removed", syncRemoved).
		Time("cutoff", cutoff).
		Msg("Retention cleanup complete")
	return auditRemoved, syncRemoved, nil
}

// RecordCounts reports row counts for the four largest collections, used by
// the pressure monitor's fallback usage estimate.
func (s *Store) RecordCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 4)
	for _, table := range []string{"videos", "playlists", "sync_metadata", "audit_log"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, storageErr("count "+table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
