package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
)

// fakeGate counts limiter and quota traffic without throttling anything.
type fakeGate struct {
	waits    int
	checks   int
	consumed int
	checkErr error
}

func (g *fakeGate) WaitForToken(ctx context.Context) error { g.waits++; return nil }

func (g *fakeGate) CheckQuota(ctx context.Context, required int) error {
	g.checks++
	return g.checkErr
}

func (g *fakeGate) ConsumeQuota(ctx context.Context, points int) error {
	g.consumed += points
	return nil
}

type staticIdentity struct{}

func (staticIdentity) Token(ctx context.Context) (string, error) { return "test-token", nil }

func newTestClient(t *testing.T, handler http.Handler) (*CatalogClient, *fakeGate) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gate := &fakeGate{}
	c, err := NewCatalogClient(context.Background(), "test-key", staticIdentity{}, gate, gate,
		option.WithEndpoint(srv.URL))
	require.NoError(t, err)
	return c, gate
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func apiErrorBody(code int, reason, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"errors":  []map[string]any{{"reason": reason, "message": message}},
		},
	}
}

func TestGetPlaylistDetails(t *testing.T) {
	c, gate := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{{
				"id":             "PL123",
				"snippet":        map[string]any{"title": "Road Trip Mix"},
				"contentDetails": map[string]any{"itemCount": 150},
			}},
		})
	}))

	details, err := c.GetPlaylistDetails(context.Background(), "PL123")
	require.NoError(t, err)
	assert.Equal(t, "PL123", details.ID)
	assert.Equal(t, "Road Trip Mix", details.Title)
	assert.Equal(t, 150, details.ItemCount)

	assert.Equal(t, 1, gate.waits)
	assert.Equal(t, 1, gate.checks)
	assert.Equal(t, 1, gate.consumed)
}

func TestGetPlaylistDetailsEmptyResult(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
	}))

	_, err := c.GetPlaylistDetails(context.Background(), "PLmissing")
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestGetPlaylistItemsPagination(t *testing.T) {
	pages := map[string]struct {
		next  string
		first int
	}{
		"":      {next: "page2", first: 0},
		"page2": {next: "page3", first: 50},
		"page3": {next: "", first: 100},
	}

	c, gate := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Query().Get("pageToken")]
		require.True(t, ok, "unexpected page token %q", r.URL.Query().Get("pageToken"))
		assert.Equal(t, "50", r.URL.Query().Get("maxResults"))

		items := make([]map[string]any, 0, 50)
		for i := 0; i < 50; i++ {
			n := page.first + i
			items = append(items, map[string]any{
				"snippet": map[string]any{
					"title":        fmt.Sprintf("Video %d", n),
					"channelId":    "UCchan",
					"channelTitle": "Some Channel",
					"publishedAt":  "2025-06-01T12:00:00Z",
					"position":     n,
				},
				"contentDetails": map[string]any{"videoId": fmt.Sprintf("vid%03d", n)},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextPageToken": page.next})
	}))

	ctx := context.Background()
	var all []string
	seen := map[string]bool{}
	token := ""
	fetches := 0
	for {
		page, err := c.GetPlaylistItems(ctx, "PL123", token)
		require.NoError(t, err)
		fetches++
		for _, item := range page.Items {
			key := item.VideoID + "/" + item.PlaylistID
			assert.False(t, seen[key], "duplicate composite key %s", key)
			seen[key] = true
			all = append(all, item.VideoID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	assert.Equal(t, 3, fetches)
	assert.Len(t, all, 150)
	// One quota point per page fetch.
	assert.Equal(t, 3, gate.consumed)
	assert.Equal(t, 3, gate.checks)
}

func TestGetVideoDetailsMapping(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{{
				"id": "vid001",
				"snippet": map[string]any{
					"title":        "Kept Video",
					"channelId":    "UCchan",
					"channelTitle": "Some Channel",
					"publishedAt":  "2025-06-01T12:00:00Z",
					"thumbnails":   map[string]any{"default": map[string]any{"url": "https://img.example/v.jpg"}},
				},
				"contentDetails": map[string]any{"duration": "PT3M20S"},
			}},
		})
	}))

	records, err := c.GetVideoDetails(context.Background(), []string{"vid001", "vid002"})
	require.NoError(t, err)
	require.Len(t, records, 1, "provider omits unavailable videos")

	rec := records[0]
	assert.Equal(t, "vid001", rec.VideoID)
	assert.Equal(t, "Kept Video", rec.Title)
	assert.Equal(t, "https://img.example/v.jpg", rec.ThumbnailURL)
	assert.Equal(t, "PT3M20S", rec.Duration)
	assert.Equal(t, "2025-06-01T12:00:00Z", rec.AddedAt.UTC().Format("2006-01-02T15:04:05Z"))
	assert.Equal(t, model.StatusAvailable, rec.Status.Current)
	assert.Empty(t, rec.Status.History)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		reason   string
		wantKind common.Kind
		wantMsg  string
	}{
		{"unauthorized", 401, "authError", common.KindAuth, "unauthorized: invalid credentials"},
		{"quota exceeded", 403, "quotaExceeded", common.KindQuota, "quota exceeded"},
		{"forbidden", 403, "forbidden", common.KindForbidden, "access forbidden"},
		{"not found", 404, "notFound", common.KindNotFound, "Resource not found"},
		{"rate limited", 429, "rateLimitExceeded", common.KindRateLimit, "rate limit exceeded"},
		{"server error", 500, "backendError", common.KindUnknown, "API error: internal error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, apiErrorBody(tc.status, tc.reason, "internal error"))
			}))

			_, err := c.GetPlaylistDetails(context.Background(), "PL123")
			require.Error(t, err)
			assert.True(t, common.IsKind(err, tc.wantKind), "got kind %s", common.KindOf(err))

			var ce *common.ClassifiedError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.wantMsg, ce.Message)
		})
	}
}

func TestUnreachableProviderClassifiedAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	gate := &fakeGate{}
	c, err := NewCatalogClient(context.Background(), "test-key", staticIdentity{}, gate, gate,
		option.WithEndpoint(srv.URL))
	require.NoError(t, err)

	_, err = c.GetPlaylistDetails(context.Background(), "PL123")
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindNetwork), "got kind %s", common.KindOf(err))
	assert.Zero(t, gate.consumed)
}

func TestQuotaRejectionShortCircuitsCall(t *testing.T) {
	served := false
	c, gate := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = true
	}))
	gate.checkErr = common.NewError(common.KindQuota, "daily quota would be exceeded")

	_, err := c.GetPlaylistDetails(context.Background(), "PL123")
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindQuota))
	assert.False(t, served, "request must not reach the provider when quota check fails")
	assert.Zero(t, gate.consumed)
}
