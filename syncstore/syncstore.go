// Package syncstore propagates per-video status records across devices. Writes
// land in a shared state store keyed by video id and are announced on a pubsub
// topic; conflicting writes resolve last-write-wins by timestamp.
package syncstore

import (
	"context"
	"time"

	"github.com/playlistwatch/playlistwatch/model"
)

// Store is the cross-device sync surface.
type Store interface {
	// SetVideoStatus records a video's status for other devices. A record
	// older than the stored one is dropped.
	SetVideoStatus(ctx context.Context, data model.VideoSyncData) error
	// GetVideoStatus returns the stored record for a video, or nil when the
	// video has no sync record.
	GetVideoStatus(ctx context.Context, videoID string) (*model.VideoSyncData, error)
	// Subscribe registers a handler for records written by other devices.
	// Handlers run for remote writes only, never for this store's own.
	Subscribe(handler func(context.Context, model.VideoSyncData) error)
	// Close releases the store's resources.
	Close() error
}

// newer reports whether candidate should replace current under
// last-write-wins. Equal timestamps keep the stored record.
func newer(candidate model.VideoSyncData, current *model.VideoSyncData) bool {
	if current == nil {
		return true
	}
	return candidate.Timestamp.After(current.Timestamp)
}

// clampFuture bounds clock skew: records stamped more than a minute ahead of
// now are re-stamped to now on write.
func clampFuture(data model.VideoSyncData, now time.Time) model.VideoSyncData {
	if data.Timestamp.After(now.Add(time.Minute)) {
		data.Timestamp = now
	}
	return data
}
