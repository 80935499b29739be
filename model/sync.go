package model

import "time"

// SyncStatus is the outcome state of a sync run.
type SyncStatus string

const (
	SyncSuccess    SyncStatus = "success"
	SyncFailure    SyncStatus = "failure"
	SyncInProgress SyncStatus = "in_progress"
)

// SyncType records what initiated a sync run.
type SyncType string

const (
	SyncScheduled SyncType = "SCHEDULED"
	SyncManual    SyncType = "MANUAL"
	SyncRecovery  SyncType = "RECOVERY"
)

// SyncChanges counts what a sync run changed.
type SyncChanges struct {
	Added         int `json:"added"`
	Removed       int `json:"removed"`
	StatusChanged int `json:"status_changed"`
}

// SyncMetadataRecord is written once per sync run and immutable after the run
// completes. Retained until storage-pressure cleanup ages it out.
type SyncMetadataRecord struct {
	ID         string        `json:"id"`
	PlaylistID string        `json:"playlist_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     SyncStatus    `json:"status"`
	Type       SyncType      `json:"type"`
	Changes    SyncChanges   `json:"changes"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	QuotaUsed  int           `json:"quota_used"`
}

// AuditLogEntry is a timestamped audit record, age-cleaned under storage pressure.
type AuditLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	PlaylistID string    `json:"playlist_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// VideoSyncData is the small per-video record propagated across devices when a
// video is found unavailable. Keyed by video id in the shared sync store.
// Conflicts resolve last-write-wins by Timestamp.
type VideoSyncData struct {
	VideoID   string           `json:"video_id"`
	Status    VideoStatus      `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  VideoSyncDetails `json:"metadata"`
}

// VideoSyncDetails carries enough display metadata to redraw the placeholder on
// another device without a provider lookup.
type VideoSyncDetails struct {
	Title         string    `json:"title"`
	ChannelTitle  string    `json:"channel_title"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	LastAvailable time.Time `json:"last_available,omitempty"`
}
