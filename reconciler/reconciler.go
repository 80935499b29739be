// Package reconciler keeps a live playlist page consistent with verified
// video availability: it watches the playlist container for structural and
// attribute changes, verifies observed videos through the message router,
// replaces unavailable entries with placeholders, queues work while offline,
// and applies status changes arriving from other devices.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/common"
	"github.com/playlistwatch/playlistwatch/dom"
	"github.com/playlistwatch/playlistwatch/model"
	"github.com/playlistwatch/playlistwatch/notify"
	"github.com/playlistwatch/playlistwatch/syncstore"
)

// State is the page-session lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateObserving     State = "observing"
	StateReconciling   State = "reconciling"
	StateDisposed      State = "disposed"
)

// Mode is the connectivity override. Automatic follows browser connectivity
// events; the forced modes suppress them until cleared.
type Mode string

const (
	ModeAutomatic     Mode = "automatic"
	ModeForcedOnline  Mode = "forced_online"
	ModeForcedOffline Mode = "forced_offline"
)

// ErrContainerNotFound is returned when the playlist container never renders.
// Fatal for the page session, not for the extension.
var ErrContainerNotFound = common.NewError(common.KindUnknown, "playlist container not found")

// Messenger sends typed messages across the context boundary.
type Messenger interface {
	Send(ctx context.Context, msg model.Message) model.Response
}

// Notifier shows user-facing notifications.
type Notifier interface {
	Info(message string, opts ...notify.Option) string
	Success(message string, opts ...notify.Option) string
	Warning(message string, opts ...notify.Option) string
	Error(message string, opts ...notify.Option) string
	Dismiss(id string)
}

// Config bounds the container lookup.
type Config struct {
	ContainerID         string
	ContainerRetries    int
	ContainerRetryDelay time.Duration
}

// DefaultConfig matches the page layout's container id with three lookup
// attempts a second apart.
func DefaultConfig() Config {
	return Config{
		ContainerID:         "playlist-container",
		ContainerRetries:    3,
		ContainerRetryDelay: time.Second,
	}
}

type entryKind string

const (
	entryProcess entryKind = "process"
	entryRemoval entryKind = "removal"
)

// queueEntry is one deferred operation. The queue lives in memory only and
// drains strictly first-in first-out when connectivity returns.
type queueEntry struct {
	kind    entryKind
	element dom.Element
	videoID string
}

// Reconciler is one page session over a single playlist.
type Reconciler struct {
	clock     clock.Clock
	doc       dom.Document
	bus       Messenger
	syncStore syncstore.Store
	notifier  Notifier
	cfg       Config

	playlistID string
	ctx        context.Context

	mu            sync.Mutex
	state         State
	mode          Mode
	browserOnline bool
	container     dom.Element
	observer      dom.Observer
	elements      map[string]dom.Element
	queue         []queueEntry
	offlineNotice string
}

// New builds a reconciler for one playlist page.
func New(clk clock.Clock, doc dom.Document, bus Messenger, syncStore syncstore.Store, notifier Notifier, playlistID string, cfg Config) *Reconciler {
	return &Reconciler{
		clock:         clk,
		doc:           doc,
		bus:           bus,
		syncStore:     syncStore,
		notifier:      notifier,
		cfg:           cfg,
		playlistID:    playlistID,
		state:         StateUninitialized,
		mode:          ModeAutomatic,
		browserOnline: true,
		elements:      make(map[string]dom.Element),
	}
}

// State returns the current session state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start locates the playlist container, attaches the mutation watch, and
// processes every video already present. It also subscribes to cross-device
// status changes.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateUninitialized {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("cannot start reconciler in state %s", state)
	}
	r.ctx = ctx
	r.mu.Unlock()

	container, err := r.locateContainer(ctx)
	if err != nil {
		return err
	}

	observer := r.doc.NewObserver()
	if err := observer.Observe(container, r.handleMutations); err != nil {
		return fmt.Errorf("failed to attach mutation watch: %w", err)
	}

	r.mu.Lock()
	r.container = container
	r.observer = observer
	r.state = StateObserving
	r.mu.Unlock()

	log.Info().
		Str("playlist_id", r.playlistID).
		Str("container_id", r.cfg.ContainerID).
		Msg("Observing playlist container")

	for _, child := range container.Children() {
		r.process(child)
	}

	r.syncStore.Subscribe(r.applyRemoteChange)
	return nil
}

// locateContainer polls for the container element, a fixed number of attempts
// with a fixed delay, since the page may not have rendered it yet.
func (r *Reconciler) locateContainer(ctx context.Context) (dom.Element, error) {
	for attempt := 0; attempt < r.cfg.ContainerRetries; attempt++ {
		if el, ok := r.doc.ElementByID(r.cfg.ContainerID); ok {
			return el, nil
		}
		if attempt == r.cfg.ContainerRetries-1 {
			break
		}
		timer := r.clock.Timer(r.cfg.ContainerRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	log.Warn().
		Str("container_id", r.cfg.ContainerID).
		Int("attempts", r.cfg.ContainerRetries).
		Msg("Playlist container never rendered")
	return nil, ErrContainerNotFound
}

func (r *Reconciler) handleMutations(muts []dom.Mutation) {
	for _, mut := range muts {
		switch mut.Kind {
		case dom.MutationAdded:
			r.process(mut.Node)
		case dom.MutationRemoved:
			r.handleRemoval(mut.Node)
		case dom.MutationAttribute:
			// A changed source link re-triggers verification.
			if mut.Attr == "href" {
				r.process(mut.Node)
			}
		}
	}
}

// process verifies one video-like element, or queues it while offline.
// Elements without a video link are ignored.
func (r *Reconciler) process(el dom.Element) {
	videoID, ok := dom.ExtractVideoID(el)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.state == StateDisposed {
		r.mu.Unlock()
		return
	}
	r.elements[videoID] = el
	if !r.onlineLocked() {
		r.queue = append(r.queue, queueEntry{kind: entryProcess, element: el, videoID: videoID})
		r.mu.Unlock()
		log.Debug().Str("video_id", videoID).Msg("Queued video processing while offline")
		return
	}
	r.state = StateReconciling
	r.mu.Unlock()

	r.verify(el, videoID)

	r.mu.Lock()
	if r.state == StateReconciling {
		r.state = StateObserving
	}
	r.mu.Unlock()
}

// verify asks the background context whether the video is still available and
// reconciles a negative or failed answer.
func (r *Reconciler) verify(el dom.Element, videoID string) {
	resp := r.bus.Send(r.ctx, model.Message{
		Type: model.MsgVerifyVideo,
		Payload: model.VerifyVideoPayload{
			VideoID:   videoID,
			Timestamp: r.clock.Now(),
			Trigger:   "page_observation",
		},
	})

	if !resp.Success {
		log.Warn().Str("video_id", videoID).Str("error", resp.Error).Msg("Video verification failed")
		r.markUnavailable(el, videoID, "")
		return
	}

	result, ok := verifyResult(resp.Data)
	if !ok {
		log.Warn().Str("video_id", videoID).Msg("Verification response had no usable result")
		return
	}
	if result.Available {
		return
	}
	r.markUnavailable(el, videoID, result.Reason)
}

// markUnavailable records the unavailability for other devices, swaps the
// element for a placeholder, and notifies the user.
func (r *Reconciler) markUnavailable(el dom.Element, videoID, reason string) {
	info, _ := dom.ExtractVideoInfo(el)
	data := model.VideoSyncData{
		VideoID:   videoID,
		Status:    model.StatusUnavailable,
		Timestamp: r.clock.Now(),
		Metadata: model.VideoSyncDetails{
			Title:         info.Title,
			ChannelTitle:  info.ChannelTitle,
			ThumbnailURL:  info.ThumbnailURL,
			Reason:        reason,
			LastAvailable: r.clock.Now(),
		},
	}

	if err := r.syncStore.SetVideoStatus(r.ctx, data); err != nil {
		log.Error().Err(err).Str("video_id", videoID).Msg("Failed to record sync status")
	}

	r.replaceWithPlaceholder(el, data)
	r.notifier.Warning(notificationText(reason))
}

// replaceWithPlaceholder swaps a live element for the placeholder and tracks
// the placeholder under the video id.
func (r *Reconciler) replaceWithPlaceholder(el dom.Element, data model.VideoSyncData) {
	placeholder := buildPlaceholder(r.doc, data)

	r.mu.Lock()
	r.elements[data.VideoID] = placeholder
	r.mu.Unlock()

	parent := el.Parent()
	if parent == nil {
		return
	}
	parent.Append(placeholder)
	parent.Remove(el)
}

// handleRemoval reports an element leaving the playlist. Removals caused by
// our own placeholder swap are ignored: the tracked element for that video id
// has already moved on.
func (r *Reconciler) handleRemoval(el dom.Element) {
	videoID, ok := dom.ExtractVideoID(el)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.state == StateDisposed {
		r.mu.Unlock()
		return
	}
	if tracked, ok := r.elements[videoID]; ok && tracked != el {
		r.mu.Unlock()
		return
	}
	delete(r.elements, videoID)
	if !r.onlineLocked() {
		r.queue = append(r.queue, queueEntry{kind: entryRemoval, element: el, videoID: videoID})
		r.mu.Unlock()
		log.Debug().Str("video_id", videoID).Msg("Queued video removal while offline")
		return
	}
	r.mu.Unlock()

	r.sendRemoval(videoID)
}

func (r *Reconciler) sendRemoval(videoID string) {
	resp := r.bus.Send(r.ctx, model.Message{
		Type: model.MsgVideoRemoved,
		Payload: model.VideoRemovedPayload{
			VideoID:       videoID,
			PlaylistID:    r.playlistID,
			UserInitiated: true,
			Timestamp:     r.clock.Now(),
		},
	})
	if !resp.Success {
		log.Warn().Str("video_id", videoID).Str("error", resp.Error).Msg("Video removal report failed")
	}
}

// applyRemoteChange reacts to a status record written on another device:
// the matching element is swapped for a placeholder. Skipped entirely while
// offline; the next full sync restores consistency instead.
func (r *Reconciler) applyRemoteChange(_ context.Context, data model.VideoSyncData) error {
	r.mu.Lock()
	if r.state == StateDisposed || !r.onlineLocked() {
		r.mu.Unlock()
		return nil
	}
	el, ok := r.elements[data.VideoID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if data.Status == model.StatusAvailable {
		return nil
	}

	log.Info().
		Str("video_id", data.VideoID).
		Str("status", string(data.Status)).
		Msg("Applying cross-device status change")
	r.replaceWithPlaceholder(el, data)
	return nil
}

// SetBrowserOnline feeds browser connectivity events. Ignored while a manual
// override is active.
func (r *Reconciler) SetBrowserOnline(online bool) {
	r.mu.Lock()
	wasOnline := r.onlineLocked()
	r.browserOnline = online
	nowOnline := r.onlineLocked()
	r.mu.Unlock()
	r.connectivityChanged(wasOnline, nowOnline)
}

// SetMode sets or clears the manual connectivity override.
func (r *Reconciler) SetMode(mode Mode) {
	r.mu.Lock()
	wasOnline := r.onlineLocked()
	r.mode = mode
	nowOnline := r.onlineLocked()
	r.mu.Unlock()
	r.connectivityChanged(wasOnline, nowOnline)
}

// Online reports effective connectivity after any manual override.
func (r *Reconciler) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

func (r *Reconciler) onlineLocked() bool {
	switch r.mode {
	case ModeForcedOnline:
		return true
	case ModeForcedOffline:
		return false
	default:
		return r.browserOnline
	}
}

func (r *Reconciler) connectivityChanged(wasOnline, nowOnline bool) {
	if wasOnline == nowOnline {
		return
	}
	if !nowOnline {
		r.mu.Lock()
		disposed := r.state == StateDisposed
		r.mu.Unlock()
		if disposed {
			return
		}
		id := r.notifier.Warning(
			"You are offline. Changes will be queued until connection is restored.",
			notify.Persistent(),
		)
		r.mu.Lock()
		r.offlineNotice = id
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	notice := r.offlineNotice
	r.offlineNotice = ""
	pending := len(r.queue)
	disposed := r.state == StateDisposed
	r.mu.Unlock()

	if notice != "" {
		r.notifier.Dismiss(notice)
	}
	if disposed {
		return
	}

	if pending == 0 {
		r.notifier.Success("Connection restored")
		return
	}

	r.notifier.Info(fmt.Sprintf("Connection restored. Processing %d queued changes...", pending))
	r.drainQueue()
	r.notifier.Success("All queued changes processed")
}

// drainQueue processes deferred operations strictly in the order enqueued,
// each to completion before the next starts.
func (r *Reconciler) drainQueue() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 || !r.onlineLocked() || r.state == StateDisposed {
			r.mu.Unlock()
			return
		}
		entry := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		switch entry.kind {
		case entryProcess:
			r.verify(entry.element, entry.videoID)
		case entryRemoval:
			r.sendRemoval(entry.videoID)
		}
	}
}

// QueueLen reports how many operations wait for connectivity.
func (r *Reconciler) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dispose detaches the mutation watch and ends the session. Safe to call
// repeatedly, and before Start.
func (r *Reconciler) Dispose() {
	r.mu.Lock()
	if r.state == StateDisposed {
		r.mu.Unlock()
		return
	}
	observer := r.observer
	r.observer = nil
	r.state = StateDisposed
	r.queue = nil
	r.mu.Unlock()

	if observer != nil {
		observer.Disconnect()
	}
	log.Info().Str("playlist_id", r.playlistID).Msg("Reconciler disposed")
}

func verifyResult(data any) (model.VerifyVideoResult, bool) {
	switch v := data.(type) {
	case model.VerifyVideoResult:
		return v, true
	case *model.VerifyVideoResult:
		return *v, true
	case []any:
		for _, item := range v {
			if result, ok := verifyResult(item); ok {
				return result, true
			}
		}
	}
	return model.VerifyVideoResult{}, false
}
