package model

import "time"

// MessageType identifies a typed message on the router between the background
// context and page contexts.
type MessageType string

const (
	// Page -> background
	MsgVideoAdded     MessageType = "VIDEO_ADDED"
	MsgVideoRemoved   MessageType = "VIDEO_REMOVED"
	MsgSyncRequest    MessageType = "SYNC_REQUEST"
	MsgVerifyVideo    MessageType = "VERIFY_VIDEO_AVAILABILITY"
	MsgSettingsGet    MessageType = "SETTINGS_GET"
	MsgSettingsUpdate MessageType = "SETTINGS_UPDATE"

	// Background -> page
	MsgSyncStatus   MessageType = "SYNC_STATUS"
	MsgErrorStatus  MessageType = "ERROR_STATUS"
	MsgErrorRetry   MessageType = "ERROR_RETRY"
	MsgUpdateUI     MessageType = "UPDATE_UI"
	MsgQuotaWarning MessageType = "QUOTA_WARNING"
)

// Message is the typed request envelope routed between contexts.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// Response is the consolidated reply to a routed message. When several
// handlers ran, Data holds every handler result and Success reports whether at
// least one of them succeeded.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// VideoAddedPayload announces a video newly observed in a playlist.
type VideoAddedPayload struct {
	VideoID    string    `json:"video_id"`
	PlaylistID string    `json:"playlist_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// VideoRemovedPayload announces a video that left the observed playlist.
type VideoRemovedPayload struct {
	VideoID       string    `json:"video_id"`
	PlaylistID    string    `json:"playlist_id"`
	UserInitiated bool      `json:"user_initiated"`
	Timestamp     time.Time `json:"timestamp"`
}

// SyncRequestPayload asks the background worker to sync one playlist.
type SyncRequestPayload struct {
	PlaylistID string `json:"playlist_id"`
	Force      bool   `json:"force"`
}

// VerifyVideoPayload asks whether a video is still available upstream.
type VerifyVideoPayload struct {
	VideoID   string    `json:"video_id"`
	Timestamp time.Time `json:"timestamp"`
	Trigger   string    `json:"trigger"`
}

// VerifyVideoResult is the data field of a VERIFY_VIDEO_AVAILABILITY response.
type VerifyVideoResult struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// SyncStatusPayload reports sync progress or failure for a playlist.
type SyncStatusPayload struct {
	PlaylistID string  `json:"playlist_id"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	Error      string  `json:"error,omitempty"`
}

// ErrorStatusPayload surfaces a classified error to the UI surfaces.
type ErrorStatusPayload struct {
	ErrorType string         `json:"error_type"`
	Component string         `json:"component"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// ErrorRetryPayload tells the original caller to re-attempt an operation. The
// governor deposits this instead of re-invoking anything itself.
type ErrorRetryPayload struct {
	Component string         `json:"component"`
	Operation string         `json:"operation"`
	Context   map[string]any `json:"context,omitempty"`
}

// QuotaWarningPayload is emitted when projected quota usage crosses the
// warning threshold.
type QuotaWarningPayload struct {
	Current     int     `json:"current"`
	Total       int     `json:"total"`
	PercentUsed float64 `json:"percent_used"`
}
