package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playlistwatch/playlistwatch/bus"
	"github.com/playlistwatch/playlistwatch/client"
	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
	"github.com/playlistwatch/playlistwatch/storage"
)

type fakeCatalog struct {
	mu       sync.Mutex
	details  map[string]*model.PlaylistDetails
	pages    map[string][]*client.PlaylistItemsPage
	videos   map[string]model.VideoRecord
	pageErr  error
	itemCall int
}

func (f *fakeCatalog) GetPlaylistDetails(_ context.Context, playlistID string) (*model.PlaylistDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	details, ok := f.details[playlistID]
	if !ok {
		return nil, common.NewError(common.KindNotFound, "Resource not found")
	}
	return details, nil
}

func (f *fakeCatalog) GetPlaylistItems(_ context.Context, playlistID, pageToken string) (*client.PlaylistItemsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	pages := f.pages[playlistID]
	idx := f.itemCall
	f.itemCall++
	if idx >= len(pages) {
		return &client.PlaylistItemsPage{}, nil
	}
	return pages[idx], nil
}

func (f *fakeCatalog) GetVideoDetails(_ context.Context, videoIDs []string) ([]model.VideoRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.VideoRecord
	for _, id := range videoIDs {
		if video, ok := f.videos[id]; ok {
			out = append(out, video)
		}
	}
	return out, nil
}

type captureSink struct {
	mu       sync.Mutex
	messages []model.Message
}

func (c *captureSink) Publish(msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *captureSink) statuses() []model.SyncStatusPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.SyncStatusPayload
	for _, msg := range c.messages {
		if msg.Type == model.MsgSyncStatus {
			out = append(out, msg.Payload.(model.SyncStatusPayload))
		}
	}
	return out
}

type fakeErrors struct {
	mu      sync.Mutex
	handled []error
	resets  []string
}

func (f *fakeErrors) HandleError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, err)
}

func (f *fakeErrors) ResetRetries(component, operation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, component+":"+operation)
}

func video(videoID, playlistID, title string) model.VideoRecord {
	return model.VideoRecord{
		VideoID:    videoID,
		PlaylistID: playlistID,
		Title:      title,
		AddedAt:    time.Now(),
		Status:     model.StatusBlock{Current: model.StatusAvailable},
	}
}

type fixture struct {
	service *Service
	catalog *fakeCatalog
	store   *storage.Store
	kv      *storage.MemoryKV
	events  *captureSink
	errors  *fakeErrors
	clock   *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalog := &fakeCatalog{
		details: make(map[string]*model.PlaylistDetails),
		pages:   make(map[string][]*client.PlaylistItemsPage),
		videos:  make(map[string]model.VideoRecord),
	}
	events := &captureSink{}
	errorsSink := &fakeErrors{}
	kv := storage.NewMemoryKV()
	mock := clock.NewMock()
	service := NewService(mock, catalog, store, kv, events, errorsSink)
	return &fixture{service: service, catalog: catalog, store: store, kv: kv, events: events, errors: errorsSink, clock: mock}
}

func TestSyncPlaylistAddsAndRemoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Locally: kept1 and gone1. Remotely: kept1 and new1, over two pages.
	require.NoError(t, f.store.AddVideo(ctx, video("kept1", "PL1", "kept")))
	require.NoError(t, f.store.AddVideo(ctx, video("gone1", "PL1", "gone")))

	f.catalog.details["PL1"] = &model.PlaylistDetails{ID: "PL1", Title: "Mix", ItemCount: 2}
	f.catalog.pages["PL1"] = []*client.PlaylistItemsPage{
		{Items: []model.VideoRecord{video("kept1", "PL1", "kept")}, NextPageToken: "p2"},
		{Items: []model.VideoRecord{video("new1", "PL1", "brand new")}},
	}

	record, err := f.service.SyncPlaylist(ctx, "PL1", model.SyncManual)
	require.NoError(t, err)

	assert.Equal(t, model.SyncSuccess, record.Status)
	assert.Equal(t, 1, record.Changes.Added)
	assert.Equal(t, 1, record.Changes.Removed)
	assert.Equal(t, 3, record.QuotaUsed, "one details call plus two pages")

	added, err := f.store.GetVideo(ctx, "new1", "PL1")
	require.NoError(t, err)
	assert.Equal(t, "brand new", added.Title)

	gone, err := f.store.GetVideo(ctx, "gone1", "PL1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnavailable, gone.Status.Current)

	kept, err := f.store.GetVideo(ctx, "kept1", "PL1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, kept.Status.Current)

	runs, err := f.store.ListSyncMetadata(ctx, "PL1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncSuccess, runs[0].Status)
	assert.Equal(t, model.SyncManual, runs[0].Type)

	statuses := f.events.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, "in_progress", statuses[0].Status)
	assert.Equal(t, "completed", statuses[len(statuses)-1].Status)

	assert.Contains(t, f.errors.resets, "sync:syncPlaylist")
}

func TestSyncPlaylistFailureRecordsAndRoutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.catalog.details["PL1"] = &model.PlaylistDetails{ID: "PL1", Title: "Mix", ItemCount: 1}
	f.catalog.pageErr = common.NewError(common.KindNetwork, "connection reset")

	record, err := f.service.SyncPlaylist(ctx, "PL1", model.SyncScheduled)
	require.Error(t, err)
	assert.Equal(t, model.SyncFailure, record.Status)
	assert.NotEmpty(t, record.Error)

	runs, err := f.store.ListSyncMetadata(ctx, "PL1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncFailure, runs[0].Status)

	require.Len(t, f.errors.handled, 1)
	assert.True(t, common.IsKind(f.errors.handled[0], common.KindSync))

	statuses := f.events.statuses()
	assert.Equal(t, "error", statuses[len(statuses)-1].Status)
	assert.Empty(t, f.errors.resets)
}

func TestSyncPlaylistQuotaErrorKeepsKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.catalog.details["PL1"] = &model.PlaylistDetails{ID: "PL1", ItemCount: 1}
	f.catalog.pageErr = common.NewError(common.KindQuota, "quota exceeded")

	_, err := f.service.SyncPlaylist(ctx, "PL1", model.SyncManual)
	require.Error(t, err)
	require.Len(t, f.errors.handled, 1)
	assert.True(t, common.IsKind(f.errors.handled[0], common.KindQuota))
}

func TestVerifyVideoHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.catalog.videos["alive1"] = video("alive1", "", "alive")

	router := bus.NewRouter()
	f.service.Register(router)

	resp := router.Send(ctx, model.Message{
		Type:    model.MsgVerifyVideo,
		Payload: model.VerifyVideoPayload{VideoID: "alive1"},
	})
	require.True(t, resp.Success)
	assert.True(t, resp.Data.(model.VerifyVideoResult).Available)

	resp = router.Send(ctx, model.Message{
		Type:    model.MsgVerifyVideo,
		Payload: model.VerifyVideoPayload{VideoID: "vanished"},
	})
	require.True(t, resp.Success, "a missing video is a result, not a handler failure")
	result := resp.Data.(model.VerifyVideoResult)
	assert.False(t, result.Available)
}

func TestVideoRemovedHandlerDistinguishesUserRemoval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.AddVideo(ctx, video("vid1", "PL1", "first")))
	require.NoError(t, f.store.AddVideo(ctx, video("vid2", "PL1", "second")))

	router := bus.NewRouter()
	f.service.Register(router)

	resp := router.Send(ctx, model.Message{
		Type:    model.MsgVideoRemoved,
		Payload: model.VideoRemovedPayload{VideoID: "vid1", PlaylistID: "PL1", UserInitiated: true},
	})
	require.True(t, resp.Success)

	resp = router.Send(ctx, model.Message{
		Type:    model.MsgVideoRemoved,
		Payload: model.VideoRemovedPayload{VideoID: "vid2", PlaylistID: "PL1", UserInitiated: false},
	})
	require.True(t, resp.Success)

	userRemoved, err := f.store.GetVideo(ctx, "vid1", "PL1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRemoved, userRemoved.Status.Current)
	assert.True(t, userRemoved.Metadata.UserRemoved)

	vanished, err := f.store.GetVideo(ctx, "vid2", "PL1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnavailable, vanished.Status.Current)
	assert.Equal(t, model.RemovalUnknown, vanished.Metadata.RemovalType)
}

func TestVideoAddedHandlerStoresUnderPlaylist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.catalog.videos["fresh1"] = video("fresh1", "", "fresh upload")

	router := bus.NewRouter()
	f.service.Register(router)

	resp := router.Send(ctx, model.Message{
		Type:    model.MsgVideoAdded,
		Payload: model.VideoAddedPayload{VideoID: "fresh1", PlaylistID: "PL1", Timestamp: time.Now()},
	})
	require.True(t, resp.Success)

	stored, err := f.store.GetVideo(ctx, "fresh1", "PL1")
	require.NoError(t, err)
	assert.Equal(t, "fresh upload", stored.Title)
}

func TestSettingsHandlers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	router := bus.NewRouter()
	f.service.Register(router)

	resp := router.Send(ctx, model.Message{Type: model.MsgSettingsGet})
	require.True(t, resp.Success)
	defaults := resp.Data.(model.UserSettings)
	assert.True(t, defaults.NotificationsEnabled)

	defaults.SyncIntervalMinutes = 30
	resp = router.Send(ctx, model.Message{Type: model.MsgSettingsUpdate, Payload: defaults})
	require.True(t, resp.Success)

	resp = router.Send(ctx, model.Message{Type: model.MsgSettingsGet})
	require.True(t, resp.Success)
	assert.Equal(t, 30, resp.Data.(model.UserSettings).SyncIntervalMinutes)
}

func TestVerifyUnavailableRestores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.AddVideo(ctx, video("back1", "PL1", "came back")))
	require.NoError(t, f.store.AddVideo(ctx, video("still1", "PL1", "still gone")))
	require.NoError(t, f.store.UpdateVideoStatus(ctx, "back1", "PL1", model.StatusUnavailable, model.RemovalUnknown))
	require.NoError(t, f.store.UpdateVideoStatus(ctx, "still1", "PL1", model.StatusUnavailable, model.RemovalUnknown))
	f.catalog.videos["back1"] = video("back1", "", "came back")

	restored, err := f.service.VerifyUnavailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	back, err := f.store.GetVideo(ctx, "back1", "PL1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, back.Status.Current)

	still, err := f.store.GetVideo(ctx, "still1", "PL1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnavailable, still.Status.Current)
}

func TestMonitorRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.service.Monitor(ctx, "PL1"))
	require.NoError(t, f.service.Monitor(ctx, "PL2"))
	require.NoError(t, f.service.Monitor(ctx, "PL1")) // already present

	ids, err := f.service.MonitoredPlaylists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"PL1", "PL2"}, ids)

	require.NoError(t, f.service.Unmonitor(ctx, "PL1"))
	ids, err = f.service.MonitoredPlaylists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"PL2"}, ids)
}

func TestSchedulerSyncsMonitoredPlaylists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.Monitor(ctx, "PL1"))
	f.catalog.details["PL1"] = &model.PlaylistDetails{ID: "PL1", Title: "Mix", ItemCount: 1}
	f.catalog.pages["PL1"] = []*client.PlaylistItemsPage{
		{Items: []model.VideoRecord{video("vid1", "PL1", "scheduled find")}},
	}

	sched := NewScheduler(f.clock, f.service, time.Hour)
	sched.Start(ctx)
	defer sched.Stop()

	time.Sleep(10 * time.Millisecond) // let the loop reach its select
	f.clock.Add(time.Hour)
	require.Eventually(t, func() bool {
		runs, err := f.store.ListSyncMetadata(ctx, "PL1")
		return err == nil && len(runs) == 1 && runs[0].Status == model.SyncSuccess
	}, 2*time.Second, 10*time.Millisecond)

	runs, err := f.store.ListSyncMetadata(ctx, "PL1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncScheduled, runs[0].Type)
}

func TestErrorRetryRedispatchesSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.catalog.details["PL1"] = &model.PlaylistDetails{ID: "PL1", Title: "Mix", ItemCount: 1}
	f.catalog.pages["PL1"] = []*client.PlaylistItemsPage{
		{Items: []model.VideoRecord{video("vid1", "PL1", "recovered")}},
	}

	router := bus.NewRouter()
	f.service.Register(router)

	resp := router.Send(ctx, model.Message{
		Type: model.MsgErrorRetry,
		Payload: model.ErrorRetryPayload{
			Component: "sync",
			Operation: "syncPlaylist",
			Context:   map[string]any{"playlistId": "PL1"},
		},
	})
	require.True(t, resp.Success, resp.Error)

	runs, err := f.store.ListSyncMetadata(ctx, "PL1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncRecovery, runs[0].Type)
	assert.Equal(t, model.SyncSuccess, runs[0].Status)
}

func TestErrorRetryForUnknownOperationIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	router := bus.NewRouter()
	f.service.Register(router)

	resp := router.Send(ctx, model.Message{
		Type: model.MsgErrorRetry,
		Payload: model.ErrorRetryPayload{
			Component: "quota",
			Operation: "checkQuota",
		},
	})
	assert.True(t, resp.Success)
}
