package dom

import (
	"errors"
	"net/url"
	"strings"
)

var errNotMemElement = errors.New("element does not belong to an in-memory document")

// ExtractVideoID finds the video id carried by an element: the v query
// parameter of the first watch link on the element itself or any descendant
// anchor. Returns false when no link with a v parameter exists.
func ExtractVideoID(el Element) (string, bool) {
	if id, ok := videoIDFromElement(el); ok {
		return id, true
	}
	for _, child := range el.Children() {
		if id, ok := ExtractVideoID(child); ok {
			return id, true
		}
	}
	return "", false
}

// VideoInfo is the display metadata a video element carries.
type VideoInfo struct {
	VideoID      string
	Title        string
	ChannelTitle string
	ThumbnailURL string
}

// ExtractVideoInfo pulls the video id plus whatever display metadata the
// element carries: the title attribute (or text) for the title, the
// data-channel attribute for the channel, and the first image source for the
// thumbnail. Only the id is required.
func ExtractVideoInfo(el Element) (VideoInfo, bool) {
	id, ok := ExtractVideoID(el)
	if !ok {
		return VideoInfo{}, false
	}
	return VideoInfo{
		VideoID:      id,
		Title:        elementTitle(el),
		ChannelTitle: attrInTree(el, "data-channel"),
		ThumbnailURL: imageSource(el),
	}, true
}

// elementTitle prefers the title attribute, on the element or any descendant,
// falling back to the element's own text.
func elementTitle(el Element) string {
	if t := attrInTree(el, "title"); t != "" {
		return t
	}
	return strings.TrimSpace(el.Text())
}

func attrInTree(el Element, name string) string {
	if v, ok := el.Attr(name); ok && v != "" {
		return v
	}
	for _, child := range el.Children() {
		if v := attrInTree(child, name); v != "" {
			return v
		}
	}
	return ""
}

func imageSource(el Element) string {
	if el.Tag() == "img" {
		if src, ok := el.Attr("src"); ok {
			return src
		}
	}
	for _, child := range el.Children() {
		if src := imageSource(child); src != "" {
			return src
		}
	}
	return ""
}

func videoIDFromElement(el Element) (string, bool) {
	if el.Tag() != "a" {
		return "", false
	}
	href, ok := el.Attr("href")
	if !ok {
		return "", false
	}
	return videoIDFromHref(href)
}

func videoIDFromHref(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(u.Path, "/watch") && u.Path != "watch" {
		return "", false
	}
	id := u.Query().Get("v")
	if id == "" {
		return "", false
	}
	return id, true
}
