// Package quota tracks daily API consumption against the provider's fixed
// point ceiling.
package quota

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
	"github.com/playlistwatch/playlistwatch/storage"
)

const stateKey = "quota_state"

// WarningFunc receives a warning when projected usage crosses the threshold.
type WarningFunc func(payload model.QuotaWarningPayload)

// Budget is the daily quota ledger. CheckQuota and ConsumeQuota are separate
// calls and not atomic with each other; concurrent callers can both pass the
// check and overshoot the ceiling by a bounded amount. Callers must check
// before consuming.
type Budget struct {
	kv               storage.KV
	clock            clock.Clock
	dailyLimit       int
	warningThreshold float64
	warn             WarningFunc
}

// NewBudget builds a Budget persisting its ledger through kv.
func NewBudget(kv storage.KV, clk clock.Clock, dailyLimit int, warningThreshold float64, warn WarningFunc) *Budget {
	return &Budget{
		kv:               kv,
		clock:            clk,
		dailyLimit:       dailyLimit,
		warningThreshold: warningThreshold,
		warn:             warn,
	}
}

// CheckQuota fails with a QUOTA error when used+required would exceed the
// daily ceiling. If the stored reset time has already passed, usage is reset
// to zero first and the check passes trivially; the check itself never
// consumes points. Crossing the warning threshold emits a quota warning.
func (b *Budget) CheckQuota(ctx context.Context, required int) error {
	state, err := b.loadState(ctx)
	if err != nil {
		return err
	}

	now := b.clock.Now()
	if now.After(state.ResetTime) {
		if err := b.reset(ctx); err != nil {
			return err
		}
		return nil
	}

	if state.QuotaUsed+required > b.dailyLimit {
		log.Warn().
			Int("used", state.QuotaUsed).
			Int("required", required).
			Int("limit", b.dailyLimit).
			Msg("Daily quota would be exceeded")
		return common.NewError(common.KindQuota, "daily quota would be exceeded")
	}

	if float64(state.QuotaUsed+required) > float64(b.dailyLimit)*b.warningThreshold && b.warn != nil {
		b.warn(model.QuotaWarningPayload{
			Current:     state.QuotaUsed,
			Total:       b.dailyLimit,
			PercentUsed: float64(state.QuotaUsed) / float64(b.dailyLimit) * 100,
		})
	}
	return nil
}

// ConsumeQuota unconditionally adds points to the stored usage.
func (b *Budget) ConsumeQuota(ctx context.Context, points int) error {
	state, err := b.loadState(ctx)
	if err != nil {
		return err
	}
	state.QuotaUsed += points
	return b.saveState(ctx, state)
}

// Used returns the current consumption counter.
func (b *Budget) Used(ctx context.Context) (int, error) {
	state, err := b.loadState(ctx)
	if err != nil {
		return 0, err
	}
	return state.QuotaUsed, nil
}

func (b *Budget) reset(ctx context.Context) error {
	state := model.QuotaState{
		QuotaUsed: 0,
		ResetTime: common.NextMidnight(b.clock.Now()),
	}
	log.Info().Time("reset_time", state.ResetTime).Msg("Quota reset for new day")
	return b.saveState(ctx, state)
}

func (b *Budget) loadState(ctx context.Context) (model.QuotaState, error) {
	var state model.QuotaState
	raw, err := b.kv.Get(ctx, stateKey)
	if err != nil {
		return state, common.WrapError(common.KindStorage, "failed to load quota state", err)
	}
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, common.WrapError(common.KindStorage, "corrupt quota state", err)
	}
	return state, nil
}

func (b *Budget) saveState(ctx context.Context, state model.QuotaState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal quota state: %w", err)
	}
	if err := b.kv.Set(ctx, stateKey, raw); err != nil {
		return common.WrapError(common.KindStorage, "failed to save quota state", err)
	}
	return nil
}
