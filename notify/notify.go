// Package notify manages user-facing notifications: a bounded set of visible
// toasts with a FIFO overflow queue, optional auto-dismissal, and action
// buttons wired to callbacks.
package notify

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Level is the visual severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// maxVisible caps how many notifications render at once; the rest queue.
const maxVisible = 3

// defaultDuration applies when a caller passes no explicit duration.
const defaultDuration = 5 * time.Second

// Action is a labeled button on a notification.
type Action struct {
	Label   string
	Handler func()
}

// Notification is a single toast.
type Notification struct {
	ID       string
	Level    Level
	Message  string
	Duration time.Duration // 0 means persistent until dismissed
	Actions  []Action
}

// Renderer displays and removes notifications on some surface.
type Renderer interface {
	Render(n Notification)
	Remove(id string)
}

// Option adjusts a single notification.
type Option func(*Notification)

// WithDuration overrides the auto-dismiss delay. Persistent passes 0.
func WithDuration(d time.Duration) Option {
	return func(n *Notification) { n.Duration = d }
}

// Persistent keeps the notification visible until explicitly dismissed.
func Persistent() Option {
	return func(n *Notification) { n.Duration = 0 }
}

// WithActions attaches action buttons.
func WithActions(actions ...Action) Option {
	return func(n *Notification) { n.Actions = actions }
}

// Manager owns the visible window and the overflow queue. At most maxVisible
// notifications render at once; newer ones wait in FIFO order and surface as
// older ones are dismissed.
type Manager struct {
	mu       sync.Mutex
	clock    clock.Clock
	renderer Renderer
	visible  []string
	queue    []Notification
	timers   map[string]*clock.Timer
	closed   bool
}

// NewManager builds a manager rendering through renderer.
func NewManager(clk clock.Clock, renderer Renderer) *Manager {
	return &Manager{
		clock:    clk,
		renderer: renderer,
		timers:   make(map[string]*clock.Timer),
	}
}

// Info shows an informational notification and returns its id.
func (m *Manager) Info(message string, opts ...Option) string {
	return m.show(LevelInfo, message, opts...)
}

// Success shows a success notification and returns its id.
func (m *Manager) Success(message string, opts ...Option) string {
	return m.show(LevelSuccess, message, opts...)
}

// Warning shows a warning notification and returns its id.
func (m *Manager) Warning(message string, opts ...Option) string {
	return m.show(LevelWarning, message, opts...)
}

// Error shows an error notification. Errors are persistent unless a duration
// option says otherwise.
func (m *Manager) Error(message string, opts ...Option) string {
	return m.show(LevelError, message, append([]Option{Persistent()}, opts...)...)
}

func (m *Manager) show(level Level, message string, opts ...Option) string {
	n := Notification{
		ID:       uuid.New().String(),
		Level:    level,
		Message:  message,
		Duration: defaultDuration,
	}
	for _, opt := range opts {
		opt(&n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return n.ID
	}

	if len(m.visible) >= maxVisible {
		m.queue = append(m.queue, n)
		log.Debug().Str("id", n.ID).Int("queued", len(m.queue)).Msg("Notification queued")
		return n.ID
	}

	m.display(n)
	return n.ID
}

// display renders a notification and arms its auto-dismiss timer. Caller
// holds m.mu.
func (m *Manager) display(n Notification) {
	m.visible = append(m.visible, n.ID)
	m.renderer.Render(n)

	if n.Duration > 0 {
		id := n.ID
		m.timers[id] = m.clock.AfterFunc(n.Duration, func() {
			m.Dismiss(id)
		})
	}
}

// Dismiss removes a notification. If it is visible, the oldest queued
// notification takes its slot; if it is still queued, it is dropped from the
// queue.
func (m *Manager) Dismiss(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}

	for i, vid := range m.visible {
		if vid != id {
			continue
		}
		m.visible = append(m.visible[:i], m.visible[i+1:]...)
		m.renderer.Remove(id)
		m.promote()
		return
	}

	for i, queued := range m.queue {
		if queued.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// DismissAll clears every visible and queued notification.
func (m *Manager) DismissAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, timer := range m.timers {
		timer.Stop()
	}
	m.timers = make(map[string]*clock.Timer)

	for _, id := range m.visible {
		m.renderer.Remove(id)
	}
	m.visible = nil
	m.queue = nil
}

// promote surfaces the oldest queued notification. Caller holds m.mu.
func (m *Manager) promote() {
	if m.closed || len(m.queue) == 0 || len(m.visible) >= maxVisible {
		return
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	m.display(next)
}

// Visible returns the ids of currently rendered notifications, oldest first.
func (m *Manager) Visible() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.visible))
	copy(out, m.visible)
	return out
}

// Queued reports how many notifications wait for a visible slot.
func (m *Manager) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Dispose cancels timers and drops all state. Further show calls no-op.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, timer := range m.timers {
		timer.Stop()
	}
	m.timers = make(map[string]*clock.Timer)
	m.visible = nil
	m.queue = nil
}
