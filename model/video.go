// Package model defines the data records tracked for monitored playlists.
package model

import "time"

// VideoStatus is the availability state of a tracked video.
type VideoStatus string

const (
	StatusAvailable   VideoStatus = "available"
	StatusUnavailable VideoStatus = "unavailable"
	StatusRemoved     VideoStatus = "removed"
)

// RemovalType classifies why a video left a playlist or became unwatchable.
type RemovalType string

const (
	RemovalUser     RemovalType = "user"
	RemovalUploader RemovalType = "uploader"
	RemovalPrivate  RemovalType = "private"
	RemovalUnknown  RemovalType = "unknown"
)

// StatusHistoryEntry is one append-only entry in a video's status history.
type StatusHistoryEntry struct {
	Status    VideoStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Reason    RemovalType `json:"reason,omitempty"`
}

// StatusBlock carries the current state of a video plus its full history.
// History entries are only ever appended.
type StatusBlock struct {
	Current     VideoStatus          `json:"current"`
	LastChecked time.Time            `json:"last_checked"`
	History     []StatusHistoryEntry `json:"history"`
}

// VideoMetadata holds removal bookkeeping for a video record.
type VideoMetadata struct {
	LastAvailable time.Time   `json:"last_available,omitempty"`
	RemovalType   RemovalType `json:"removal_type,omitempty"`
	UserRemoved   bool        `json:"user_removed"`
	RemovedAt     time.Time   `json:"removed_at,omitempty"`
}

// VideoRecord is one video tracked within one playlist. The same video id can
// appear in multiple playlists as independent records; identity is the
// (VideoID, PlaylistID) pair.
type VideoRecord struct {
	VideoID      string        `json:"video_id"`
	PlaylistID   string        `json:"playlist_id"`
	Title        string        `json:"title"`
	ChannelID    string        `json:"channel_id"`
	ChannelTitle string        `json:"channel_title"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	Duration     string        `json:"duration,omitempty"`
	AddedAt      time.Time     `json:"added_at"`
	Position     int           `json:"position"`
	Status       StatusBlock   `json:"status"`
	Metadata     VideoMetadata `json:"metadata"`
}

// Playlist is a monitored playlist.
type Playlist struct {
	PlaylistID string    `json:"playlist_id"`
	Title      string    `json:"title"`
	ItemCount  int       `json:"item_count"`
	LastSynced time.Time `json:"last_synced"`
	Status     string    `json:"status"`
}

// PlaylistDetails is the provider's view of a playlist, fetched before a sync run.
type PlaylistDetails struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ItemCount int    `json:"item_count"`
}

// UserSettings is the persisted settings record for the popup surface.
type UserSettings struct {
	ID                   string `json:"id"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	AutoCleanupEnabled   bool   `json:"auto_cleanup_enabled"`
	SyncIntervalMinutes  int    `json:"sync_interval_minutes"`
}

// QuotaState is the persisted daily quota ledger. QuotaUsed is monotonic within
// a day; ResetTime is the next local midnight after which usage starts over.
type QuotaState struct {
	QuotaUsed int       `json:"quota_used"`
	ResetTime time.Time `json:"reset_time"`
}
