// Package storage provides the durable local store for playlists, videos,
// sync runs, settings and the audit log, plus the key-value capability used
// for small singleton state.
package storage

import (
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/common"
)

// Store is the persistent structured store. All mutating operations are
// atomic within the single collection they touch; there are no
// cross-collection transactions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Opened persistent store")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS playlists (
	playlist_id TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	item_count  INTEGER NOT NULL DEFAULT 0,
	last_synced INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_playlists_title ON playlists(title);
CREATE INDEX IF NOT EXISTS idx_playlists_last_synced ON playlists(last_synced);
CREATE INDEX IF NOT EXISTS idx_playlists_status ON playlists(status);

CREATE TABLE IF NOT EXISTS videos (
	video_id       TEXT NOT NULL,
	playlist_id    TEXT NOT NULL,
	title          TEXT NOT NULL,
	channel_id     TEXT NOT NULL DEFAULT '',
	channel_title  TEXT NOT NULL DEFAULT '',
	thumbnail_url  TEXT NOT NULL DEFAULT '',
	duration       TEXT NOT NULL DEFAULT '',
	added_at       INTEGER NOT NULL DEFAULT 0,
	position       INTEGER NOT NULL DEFAULT 0,
	status_current TEXT NOT NULL,
	last_checked   INTEGER NOT NULL DEFAULT 0,
	history        TEXT NOT NULL DEFAULT '[]',
	last_available INTEGER NOT NULL DEFAULT 0,
	removal_type   TEXT NOT NULL DEFAULT '',
	user_removed   INTEGER NOT NULL DEFAULT 0,
	removed_at     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (video_id, playlist_id)
);
CREATE INDEX IF NOT EXISTS idx_videos_playlist ON videos(playlist_id);
CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status_current);
CREATE INDEX IF NOT EXISTS idx_videos_added_at ON videos(added_at);
CREATE INDEX IF NOT EXISTS idx_videos_last_checked ON videos(last_checked);

CREATE TABLE IF NOT EXISTS sync_metadata (
	id             TEXT PRIMARY KEY,
	playlist_id    TEXT NOT NULL,
	timestamp      INTEGER NOT NULL,
	status         TEXT NOT NULL,
	type           TEXT NOT NULL,
	added          INTEGER NOT NULL DEFAULT 0,
	removed        INTEGER NOT NULL DEFAULT 0,
	status_changed INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	quota_used     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_playlist ON sync_metadata(playlist_id);
CREATE INDEX IF NOT EXISTS idx_sync_timestamp ON sync_metadata(timestamp);
CREATE INDEX IF NOT EXISTS idx_sync_status ON sync_metadata(status);

CREATE TABLE IF NOT EXISTS user_settings (
	id                    TEXT PRIMARY KEY,
	notifications_enabled INTEGER NOT NULL DEFAULT 1,
	auto_cleanup_enabled  INTEGER NOT NULL DEFAULT 1,
	sync_interval_minutes INTEGER NOT NULL DEFAULT 60
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	timestamp   INTEGER NOT NULL,
	type        TEXT NOT NULL,
	playlist_id TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(type);
CREATE INDEX IF NOT EXISTS idx_audit_playlist ON audit_log(playlist_id);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// storageErr wraps a database failure into the taxonomy, preserving the
// classified sentinels when the cause is a unique-constraint violation.
func storageErr(op string, err error) error {
	if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
		return common.ErrDuplicateRecord
	}
	return common.WrapError(common.KindStorage, "failed to "+op, err)
}
