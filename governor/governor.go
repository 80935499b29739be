// Package governor centralizes error classification fallout: retry
// scheduling with exponential backoff, and user-facing notification events.
// Components route retryable conditions here instead of retrying locally.
package governor

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/model"
)

// EventSink receives retry requests, error status and sync status events.
// The router satisfies this.
type EventSink interface {
	Publish(msg model.Message)
}

// Config bounds retry behavior.
type Config struct {
	MaxRetries  int
	MinInterval time.Duration
	BaseDelay   time.Duration
}

type retryState struct {
	count       int
	lastAttempt time.Time
	operation   string
}

// Governor is the central error sink. Retries are realized as deferred
// ERROR_RETRY events deposited on the sink, never as direct re-invocation;
// the original caller re-attempts when it receives the event.
type Governor struct {
	mu      sync.Mutex
	clock   clock.Clock
	sink    EventSink
	cfg     Config
	retries map[string]*retryState
	timers  []*clock.Timer
	closed  bool
}

// New builds a governor publishing into sink.
func New(clk clock.Clock, sink EventSink, cfg Config) *Governor {
	return &Governor{
		clock:   clk,
		sink:    sink,
		cfg:     cfg,
		retries: make(map[string]*retryState),
	}
}

// HandleError logs the error, dispatches by kind, and always emits a
// user-facing ERROR_STATUS event.
func (g *Governor) HandleError(err error) {
	ce := classify(err)

	log.Error().
		Str("kind", string(ce.Kind)).
		Str("component", ce.Context.Component).
		Str("operation", ce.Context.Operation).
		Err(err).
		Msg("Handling classified error")

	switch ce.Kind {
	case common.KindQuota:
		g.handleQuotaError(ce)
	case common.KindNetwork:
		g.handleNetworkError(ce)
	case common.KindStorageQuota:
		g.handleStorageQuotaError(ce)
	case common.KindSync:
		g.handleSyncError(ce)
	}

	g.notify(ce, nil)
}

func (g *Governor) handleQuotaError(ce *common.ClassifiedError) {
	retryAfter := common.NextMidnight(g.clock.Now())
	g.notify(ce, map[string]any{"retryAfter": retryAfter})

	if ce.Context.Component == "sync" {
		g.sink.Publish(model.Message{
			Type: model.MsgSyncStatus,
			Payload: model.SyncStatusPayload{
				PlaylistID: detailString(ce, "playlistId"),
				Status:     "error",
				Error:      "API quota exceeded",
			},
		})
	}
}

func (g *Governor) handleNetworkError(ce *common.ClassifiedError) {
	key := retryKey(ce.Context)

	g.mu.Lock()
	state, ok := g.retries[key]
	if !ok {
		state = &retryState{operation: ce.Context.Operation}
	}
	now := g.clock.Now()
	allowed := state.count < g.cfg.MaxRetries &&
		(state.lastAttempt.IsZero() || now.Sub(state.lastAttempt) >= g.cfg.MinInterval)
	g.mu.Unlock()

	if allowed {
		g.scheduleRetry(ce, state)
	}
}

func (g *Governor) handleStorageQuotaError(ce *common.ClassifiedError) {
	g.notify(ce, map[string]any{"requiresAction": true})
}

func (g *Governor) handleSyncError(ce *common.ClassifiedError) {
	retryable := true
	if v, ok := ce.Context.Details["retryable"].(bool); ok {
		retryable = v
	}
	if retryable {
		g.scheduleRetry(ce, &retryState{operation: ce.Context.Operation})
	}

	g.sink.Publish(model.Message{
		Type: model.MsgSyncStatus,
		Payload: model.SyncStatusPayload{
			PlaylistID: detailString(ce, "playlistId"),
			Status:     "error",
			Error:      ce.Message,
		},
	})
}

// scheduleRetry deposits a deferred ERROR_RETRY event after exponential
// backoff: base, 2*base, 4*base, doubling with each attempt for the same
// (component, operation) key.
func (g *Governor) scheduleRetry(ce *common.ClassifiedError, state *retryState) {
	key := retryKey(ce.Context)
	delay := time.Duration(math.Pow(2, float64(state.count))) * g.cfg.BaseDelay

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.retries[key] = &retryState{
		count:       state.count + 1,
		lastAttempt: g.clock.Now(),
		operation:   state.operation,
	}

	component := ce.Context.Component
	operation := state.operation
	details := ce.Context.Details
	timer := g.clock.AfterFunc(delay, func() {
		g.sink.Publish(model.Message{
			Type: model.MsgErrorRetry,
			Payload: model.ErrorRetryPayload{
				Component: component,
				Operation: operation,
				Context:   details,
			},
		})
	})
	g.timers = append(g.timers, timer)
	g.mu.Unlock()

	log.Info().
		Str("key", key).
		Dur("delay", delay).
		Int("attempt", state.count+1).
		Msg("Scheduled deferred retry")
}

// ResetRetries clears the retry counter for a (component, operation) key,
// typically after the operation finally succeeded.
func (g *Governor) ResetRetries(component, operation string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.retries, fmt.Sprintf("%s:%s", component, operation))
}

// Dispose cancels all pending retry timers. Further errors are still
// notified but no longer scheduled.
func (g *Governor) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for _, timer := range g.timers {
		timer.Stop()
	}
	g.timers = nil
}

func (g *Governor) notify(ce *common.ClassifiedError, extra map[string]any) {
	details := make(map[string]any, len(ce.Context.Details)+len(extra))
	for k, v := range ce.Context.Details {
		details[k] = v
	}
	for k, v := range extra {
		details[k] = v
	}

	g.sink.Publish(model.Message{
		Type: model.MsgErrorStatus,
		Payload: model.ErrorStatusPayload{
			ErrorType: string(ce.Kind),
			Component: ce.Context.Component,
			Timestamp: ce.Context.Timestamp,
			Details:   details,
		},
	})
}

func classify(err error) *common.ClassifiedError {
	var ce *common.ClassifiedError
	if !errors.As(err, &ce) {
		return common.WrapError(common.KindUnknown, "unclassified error", err)
	}
	return ce
}

func retryKey(ctx common.ErrorContext) string {
	return fmt.Sprintf("%s:%s", ctx.Component, ctx.Operation)
}

func detailString(ce *common.ClassifiedError, key string) string {
	if v, ok := ce.Context.Details[key].(string); ok {
		return v
	}
	return ""
}
