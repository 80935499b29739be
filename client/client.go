// Package client talks to the remote video catalog provider. Every call is
// gated by the rate limiter and the quota budget before it reaches the wire.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	"github.com/playlistwatch/playlistwatch/model"
)

const (
	pageSize       = 50
	pointsPerCall  = 1
	requestTimeout = 30 * time.Second
)

// RateLimiter is the token gate acquired before each provider call.
type RateLimiter interface {
	WaitForToken(ctx context.Context) error
}

// QuotaBudget is the daily consumption ledger checked before and charged
// after each provider call.
type QuotaBudget interface {
	CheckQuota(ctx context.Context, required int) error
	ConsumeQuota(ctx context.Context, points int) error
}

// IdentityProvider supplies the bearer credential attached to provider calls.
type IdentityProvider interface {
	Token(ctx context.Context) (string, error)
}

// PlaylistItemsPage is one page of playlist items plus the cursor for the
// next page. An empty NextPageToken ends the pagination loop.
type PlaylistItemsPage struct {
	Items         []model.VideoRecord
	NextPageToken string
}

// CatalogClient fetches playlist and video metadata from the provider.
type CatalogClient struct {
	service *ytapi.Service
	limiter RateLimiter
	quota   QuotaBudget
}

// bearerTransport injects the identity capability's bearer token into every
// outgoing request.
type bearerTransport struct {
	identity IdentityProvider
	base     http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.identity.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(clone)
}

// NewCatalogClient builds a client for the provider's data API. Extra options
// (such as an endpoint override) are appended after the defaults.
func NewCatalogClient(ctx context.Context, apiKey string, identity IdentityProvider, limiter RateLimiter, quota QuotaBudget, opts ...option.ClientOption) (*CatalogClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("catalog API key is required")
	}

	httpClient := &http.Client{
		Timeout: requestTimeout,
	}
	if identity != nil {
		httpClient.Transport = &bearerTransport{identity: identity, base: http.DefaultTransport}
	}

	allOpts := append([]option.ClientOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}, opts...)

	service, err := ytapi.NewService(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog service: %w", err)
	}

	return &CatalogClient{
		service: service,
		limiter: limiter,
		quota:   quota,
	}, nil
}

// GetPlaylistDetails fetches a playlist's title and item count.
func (c *CatalogClient) GetPlaylistDetails(ctx context.Context, playlistID string) (*model.PlaylistDetails, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}

	resp, err := c.service.Playlists.List([]string{"snippet", "contentDetails"}).
		Id(playlistID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(err, "fetch playlist details")
	}
	if err := c.quota.ConsumeQuota(ctx, pointsPerCall); err != nil {
		return nil, err
	}

	if len(resp.Items) == 0 {
		return nil, classifyNotFound("playlist not found")
	}

	item := resp.Items[0]
	details := &model.PlaylistDetails{
		ID:    item.Id,
		Title: item.Snippet.Title,
	}
	if item.ContentDetails != nil {
		details.ItemCount = int(item.ContentDetails.ItemCount)
	}

	log.Debug().Str("playlist_id", playlistID).Int("item_count", details.ItemCount).Msg("Fetched playlist details")
	return details, nil
}

// GetPlaylistItems fetches one page of a playlist. The caller drives the loop
// by passing back NextPageToken until it comes back empty.
func (c *CatalogClient) GetPlaylistItems(ctx context.Context, playlistID, pageToken string) (*PlaylistItemsPage, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}

	call := c.service.PlaylistItems.List([]string{"snippet", "contentDetails", "status"}).
		PlaylistId(playlistID).
		MaxResults(pageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, classifyError(err, "fetch playlist items")
	}
	if err := c.quota.ConsumeQuota(ctx, pointsPerCall); err != nil {
		return nil, err
	}

	page := &PlaylistItemsPage{
		NextPageToken: resp.NextPageToken,
		Items:         make([]model.VideoRecord, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		page.Items = append(page.Items, mapPlaylistItem(item, playlistID))
	}

	log.Debug().
		Str("playlist_id", playlistID).
		Int("items", len(page.Items)).
		Bool("has_next", page.NextPageToken != "").
		Msg("Fetched playlist items page")
	return page, nil
}

// GetVideoDetails fetches details for a batch of video ids. Videos the
// provider no longer returns are simply absent from the result.
func (c *CatalogClient) GetVideoDetails(ctx context.Context, videoIDs []string) ([]model.VideoRecord, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}

	resp, err := c.service.Videos.List([]string{"snippet", "contentDetails", "status"}).
		Id(videoIDs...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(err, "fetch video details")
	}
	if err := c.quota.ConsumeQuota(ctx, pointsPerCall); err != nil {
		return nil, err
	}

	records := make([]model.VideoRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		records = append(records, mapVideo(item))
	}
	return records, nil
}

// gate acquires a rate-limit token, then proactively checks quota. Quota is
// consumed only after the call succeeds.
func (c *CatalogClient) gate(ctx context.Context) error {
	if err := c.limiter.WaitForToken(ctx); err != nil {
		return err
	}
	return c.quota.CheckQuota(ctx, pointsPerCall)
}

// mapPlaylistItem shapes a playlist item into a fresh sighting. New records
// always start AVAILABLE with empty history; this path is the source for new
// sightings, not for status reconciliation.
func mapPlaylistItem(item *ytapi.PlaylistItem, playlistID string) model.VideoRecord {
	rec := model.VideoRecord{
		PlaylistID: playlistID,
		Status: model.StatusBlock{
			Current:     model.StatusAvailable,
			LastChecked: time.Now(),
			History:     []model.StatusHistoryEntry{},
		},
	}
	if item.ContentDetails != nil {
		rec.VideoID = item.ContentDetails.VideoId
	}
	if item.Snippet != nil {
		rec.Title = item.Snippet.Title
		rec.ChannelID = item.Snippet.ChannelId
		rec.ChannelTitle = item.Snippet.ChannelTitle
		rec.Position = int(item.Snippet.Position)
		rec.AddedAt = parsePublishedAt(item.Snippet.PublishedAt)
		if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.Default != nil {
			rec.ThumbnailURL = item.Snippet.Thumbnails.Default.Url
		}
	}
	return rec
}

func mapVideo(item *ytapi.Video) model.VideoRecord {
	rec := model.VideoRecord{
		VideoID: item.Id,
		Status: model.StatusBlock{
			Current:     model.StatusAvailable,
			LastChecked: time.Now(),
			History:     []model.StatusHistoryEntry{},
		},
	}
	if item.Snippet != nil {
		rec.Title = item.Snippet.Title
		rec.ChannelID = item.Snippet.ChannelId
		rec.ChannelTitle = item.Snippet.ChannelTitle
		rec.AddedAt = parsePublishedAt(item.Snippet.PublishedAt)
		if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.Default != nil {
			rec.ThumbnailURL = item.Snippet.Thumbnails.Default.Url
		}
	}
	if item.ContentDetails != nil {
		rec.Duration = item.ContentDetails.Duration
	}
	return rec
}

func parsePublishedAt(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
