package reconciler

import (
	"github.com/playlistwatch/playlistwatch/dom"
	"github.com/playlistwatch/playlistwatch/model"
)

// badgeText is the short status label shown on a placeholder.
func badgeText(reason string) string {
	switch reason {
	case "private":
		return "Private video"
	case "deleted", "removed", "copyright":
		return "Video removed"
	default:
		return "Video unavailable"
	}
}

// notificationText is the human-readable copy shown when a video turns
// unavailable.
func notificationText(reason string) string {
	switch reason {
	case "private":
		return "Video is now private"
	case "deleted", "removed":
		return "Video has been removed"
	case "copyright":
		return "Video removed due to copyright"
	default:
		return "Video is unavailable"
	}
}

// buildPlaceholder assembles the replacement element for an unavailable
// video: status badge, last-known title and channel, and the last-available
// date when known.
func buildPlaceholder(doc dom.Document, data model.VideoSyncData) dom.Element {
	root := doc.CreateElement("div")
	root.SetAttr("class", "pw-placeholder")
	root.SetAttr("data-video-id", data.VideoID)

	badge := doc.CreateElement("span")
	badge.SetAttr("class", "pw-badge")
	badge.SetText(badgeText(data.Metadata.Reason))
	root.Append(badge)

	if data.Metadata.ThumbnailURL != "" {
		thumb := doc.CreateElement("img")
		thumb.SetAttr("class", "pw-thumbnail")
		thumb.SetAttr("src", data.Metadata.ThumbnailURL)
		root.Append(thumb)
	}

	title := doc.CreateElement("div")
	title.SetAttr("class", "pw-title")
	title.SetText(data.Metadata.Title)
	root.Append(title)

	if data.Metadata.ChannelTitle != "" {
		channel := doc.CreateElement("div")
		channel.SetAttr("class", "pw-channel")
		channel.SetText(data.Metadata.ChannelTitle)
		root.Append(channel)
	}

	if !data.Metadata.LastAvailable.IsZero() {
		last := doc.CreateElement("div")
		last.SetAttr("class", "pw-last-available")
		last.SetText("Last available " + data.Metadata.LastAvailable.Format("Jan 2, 2006"))
		root.Append(last)
	}

	return root
}
