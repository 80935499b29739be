package quota

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
	"github.com/playlistwatch/playlistwatch/storage"
)

func newTestBudget(t *testing.T, warn WarningFunc) (*Budget, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	kv := storage.NewMemoryKV()
	b := NewBudget(kv, mock, 10000, 0.8, warn)
	// Establish a ledger for the current day so checks do not start on the
	// trivial reset path.
	require.NoError(t, b.CheckQuota(context.Background(), 0))
	return b, mock
}

func TestCheckQuotaWithinLimit(t *testing.T) {
	b, _ := newTestBudget(t, nil)
	ctx := context.Background()

	require.NoError(t, b.CheckQuota(ctx, 100))
	require.NoError(t, b.ConsumeQuota(ctx, 100))

	used, err := b.Used(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, used)
}

func TestCheckQuotaRejectsOverCeiling(t *testing.T) {
	b, _ := newTestBudget(t, nil)
	ctx := context.Background()

	require.NoError(t, b.ConsumeQuota(ctx, 9500))

	err := b.CheckQuota(ctx, 501)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindQuota))

	// Exactly reaching the ceiling is still allowed.
	assert.NoError(t, b.CheckQuota(ctx, 500))
}

func TestConsumeQuotaIsNeverBlocked(t *testing.T) {
	b, _ := newTestBudget(t, nil)
	ctx := context.Background()

	require.NoError(t, b.ConsumeQuota(ctx, 10000))
	// Consumption past the ceiling succeeds; only subsequent checks reject.
	require.NoError(t, b.ConsumeQuota(ctx, 50))

	err := b.CheckQuota(ctx, 1)
	assert.True(t, common.IsKind(err, common.KindQuota))
}

func TestQuotaWarningThreshold(t *testing.T) {
	var warned []model.QuotaWarningPayload
	b, _ := newTestBudget(t, func(p model.QuotaWarningPayload) {
		warned = append(warned, p)
	})
	ctx := context.Background()

	require.NoError(t, b.ConsumeQuota(ctx, 7000))
	require.NoError(t, b.CheckQuota(ctx, 100))
	assert.Empty(t, warned, "below threshold should not warn")

	require.NoError(t, b.ConsumeQuota(ctx, 1500))
	require.NoError(t, b.CheckQuota(ctx, 100))
	require.Len(t, warned, 1)
	assert.Equal(t, 8500, warned[0].Current)
	assert.Equal(t, 10000, warned[0].Total)
	assert.InDelta(t, 85.0, warned[0].PercentUsed, 0.01)
}

func TestQuotaResetsAfterMidnight(t *testing.T) {
	b, mock := newTestBudget(t, nil)
	ctx := context.Background()

	require.NoError(t, b.ConsumeQuota(ctx, 10000))
	require.Error(t, b.CheckQuota(ctx, 1))

	mock.Add(25 * time.Hour)

	// First check after rollover resets the ledger and passes trivially.
	require.NoError(t, b.CheckQuota(ctx, 1))
	used, err := b.Used(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	// The new reset time is the next local midnight from "now".
	state := mustState(t, b)
	want := common.NextMidnight(mock.Now())
	assert.True(t, state.ResetTime.Equal(want), "reset time %v, want %v", state.ResetTime, want)
	assert.Zero(t, state.ResetTime.Hour())
	assert.Zero(t, state.ResetTime.Minute())
	assert.Zero(t, state.ResetTime.Second())
}

func TestResetIsIdempotent(t *testing.T) {
	b, mock := newTestBudget(t, nil)
	ctx := context.Background()

	mock.Add(25 * time.Hour)
	require.NoError(t, b.CheckQuota(ctx, 1))
	first := mustState(t, b)

	require.NoError(t, b.CheckQuota(ctx, 1))
	second := mustState(t, b)

	assert.True(t, first.ResetTime.Equal(second.ResetTime))
	assert.Equal(t, 0, second.QuotaUsed)
}

func mustState(t *testing.T, b *Budget) model.QuotaState {
	t.Helper()
	state, err := b.loadState(context.Background())
	require.NoError(t, err)
	return state
}
