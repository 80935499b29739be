package governor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
)

type captureSink struct {
	mu       sync.Mutex
	messages []model.Message
}

func (c *captureSink) Publish(msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *captureSink) byType(msgType model.MessageType) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Message
	for _, msg := range c.messages {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func testConfig() Config {
	return Config{MaxRetries: 3, MinInterval: time.Second, BaseDelay: time.Second}
}

func networkErr(component, operation string) error {
	return common.WrapError(common.KindNetwork, "connection reset", errors.New("reset")).
		WithContext(component, operation, nil)
}

func TestEveryErrorEmitsErrorStatus(t *testing.T) {
	sink := &captureSink{}
	g := New(clock.NewMock(), sink, testConfig())

	g.HandleError(common.NewError(common.KindAuth, "bad credentials").WithContext("api", "fetch", nil))

	statuses := sink.byType(model.MsgErrorStatus)
	require.Len(t, statuses, 1)
	payload := statuses[0].Payload.(model.ErrorStatusPayload)
	assert.Equal(t, "AUTH", payload.ErrorType)
	assert.Equal(t, "api", payload.Component)
}

func TestUnclassifiedErrorsNotifyAsUnknown(t *testing.T) {
	sink := &captureSink{}
	g := New(clock.NewMock(), sink, testConfig())

	g.HandleError(errors.New("plain failure"))

	statuses := sink.byType(model.MsgErrorStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, "UNKNOWN", statuses[0].Payload.(model.ErrorStatusPayload).ErrorType)
	assert.Empty(t, sink.byType(model.MsgErrorRetry))
}

func TestQuotaErrorCarriesRetryAfterMidnight(t *testing.T) {
	sink := &captureSink{}
	mock := clock.NewMock()
	g := New(mock, sink, testConfig())

	g.HandleError(common.NewError(common.KindQuota, "quota exceeded").
		WithContext("sync", "syncPlaylist", map[string]any{"playlistId": "PL1"}))

	statuses := sink.byType(model.MsgErrorStatus)
	require.NotEmpty(t, statuses)
	retryAfter, ok := statuses[0].Payload.(model.ErrorStatusPayload).Details["retryAfter"].(time.Time)
	require.True(t, ok)
	assert.True(t, retryAfter.Equal(common.NextMidnight(mock.Now())))

	// A quota error in a sync operation also pushes a sync error status.
	syncs := sink.byType(model.MsgSyncStatus)
	require.Len(t, syncs, 1)
	payload := syncs[0].Payload.(model.SyncStatusPayload)
	assert.Equal(t, "PL1", payload.PlaylistID)
	assert.Equal(t, "API quota exceeded", payload.Error)
}

func TestNetworkErrorBackoffSchedule(t *testing.T) {
	sink := &captureSink{}
	mock := clock.NewMock()
	g := New(mock, sink, testConfig())

	// First failure: retry deposited after 1s, not before.
	g.HandleError(networkErr("api", "getPlaylistItems"))
	assert.Empty(t, sink.byType(model.MsgErrorRetry))
	mock.Add(time.Second)
	require.Len(t, sink.byType(model.MsgErrorRetry), 1)

	retry := sink.byType(model.MsgErrorRetry)[0].Payload.(model.ErrorRetryPayload)
	assert.Equal(t, "api", retry.Component)
	assert.Equal(t, "getPlaylistItems", retry.Operation)

	// Second failure for the same key: doubled delay.
	g.HandleError(networkErr("api", "getPlaylistItems"))
	mock.Add(time.Second)
	assert.Len(t, sink.byType(model.MsgErrorRetry), 1, "2s backoff not yet elapsed")
	mock.Add(time.Second)
	assert.Len(t, sink.byType(model.MsgErrorRetry), 2)

	// Third failure: 4s delay.
	g.HandleError(networkErr("api", "getPlaylistItems"))
	mock.Add(4 * time.Second)
	assert.Len(t, sink.byType(model.MsgErrorRetry), 3)

	// Fourth failure exceeds the retry ceiling: nothing more is scheduled.
	g.HandleError(networkErr("api", "getPlaylistItems"))
	mock.Add(time.Minute)
	assert.Len(t, sink.byType(model.MsgErrorRetry), 3)
}

func TestNetworkErrorMinIntervalGate(t *testing.T) {
	sink := &captureSink{}
	mock := clock.NewMock()
	g := New(mock, sink, testConfig())

	g.HandleError(networkErr("api", "fetch"))
	// A second failure arriving immediately is ignored: less than the
	// minimum interval since the last scheduled attempt.
	g.HandleError(networkErr("api", "fetch"))

	mock.Add(time.Minute)
	assert.Len(t, sink.byType(model.MsgErrorRetry), 1)
}

func TestResetRetriesClearsBackoff(t *testing.T) {
	sink := &captureSink{}
	mock := clock.NewMock()
	g := New(mock, sink, testConfig())

	g.HandleError(networkErr("api", "fetch"))
	mock.Add(time.Second)
	require.Len(t, sink.byType(model.MsgErrorRetry), 1)

	g.ResetRetries("api", "fetch")
	g.HandleError(networkErr("api", "fetch"))

	// After a reset the schedule starts over at the base delay.
	mock.Add(time.Second)
	assert.Len(t, sink.byType(model.MsgErrorRetry), 2)
}

func TestStorageQuotaErrorRequiresAction(t *testing.T) {
	sink := &captureSink{}
	g := New(clock.NewMock(), sink, testConfig())

	g.HandleError(common.NewError(common.KindStorageQuota, "storage critical").
		WithContext("storage", "check", nil))

	statuses := sink.byType(model.MsgErrorStatus)
	require.NotEmpty(t, statuses)
	assert.Equal(t, true, statuses[0].Payload.(model.ErrorStatusPayload).Details["requiresAction"])
}

func TestSyncErrorRetriesUnlessMarkedOtherwise(t *testing.T) {
	sink := &captureSink{}
	mock := clock.NewMock()
	g := New(mock, sink, testConfig())

	g.HandleError(common.NewError(common.KindSync, "sync interrupted").
		WithContext("sync", "syncPlaylist", map[string]any{"playlistId": "PL1"}))
	mock.Add(time.Second)
	assert.Len(t, sink.byType(model.MsgErrorRetry), 1)
	assert.Len(t, sink.byType(model.MsgSyncStatus), 1)

	g.HandleError(common.NewError(common.KindSync, "sync failed for good").
		WithContext("sync", "syncPlaylist", map[string]any{"playlistId": "PL1", "retryable": false}))
	mock.Add(time.Minute)
	// Non-retryable sync errors still push a sync status event.
	assert.Len(t, sink.byType(model.MsgErrorRetry), 1)
	assert.Len(t, sink.byType(model.MsgSyncStatus), 2)
}

func TestDisposeCancelsPendingRetries(t *testing.T) {
	sink := &captureSink{}
	mock := clock.NewMock()
	g := New(mock, sink, testConfig())

	g.HandleError(networkErr("api", "fetch"))
	g.Dispose()

	mock.Add(time.Minute)
	assert.Empty(t, sink.byType(model.MsgErrorRetry))
}
