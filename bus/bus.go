// Package bus provides the typed message router bridging the background
// services and the page-side reconciler.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/model"
)

// Handler processes one message payload and returns a result. A nil error
// marks the handler as successful.
type Handler func(ctx context.Context, payload any) (any, error)

// Router dispatches typed messages to registered handlers. Multiple handlers
// may be registered for one type; on Send they all run concurrently and the
// call is considered handled if any of them succeeds.
type Router struct {
	mu       sync.RWMutex
	handlers map[model.MessageType][]Handler
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.MessageType][]Handler),
	}
}

// Register appends a handler for the message type.
func (r *Router) Register(msgType model.MessageType, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = append(r.handlers[msgType], handler)
	log.Debug().Str("type", string(msgType)).Msg("Registered message handler")
}

// Unregister removes all handlers for the message type.
func (r *Router) Unregister(msgType model.MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, msgType)
}

// Send delivers the message to every handler registered for its type and
// consolidates their results. Delivery to an unregistered type is not a
// transport failure: the call returns a handled=false response with a
// descriptive error. When several handlers ran, Data carries every handler
// result and Error is set only when all of them failed.
func (r *Router) Send(ctx context.Context, msg model.Message) model.Response {
	r.mu.RLock()
	handlers := make([]Handler, len(r.handlers[msg.Type]))
	copy(handlers, r.handlers[msg.Type])
	r.mu.RUnlock()

	if len(handlers) == 0 {
		log.Warn().Str("type", string(msg.Type)).Msg("No handlers registered for message type")
		return model.Response{
			Success: false,
			Error:   fmt.Sprintf("no handler registered for %s", msg.Type),
		}
	}

	type handlerResult struct {
		index int
		data  any
		err   error
	}

	results := make(chan handlerResult, len(handlers))
	for i, handler := range handlers {
		go func(i int, h Handler) {
			data, err := h(ctx, msg.Payload)
			results <- handlerResult{index: i, data: data, err: err}
		}(i, handler)
	}

	data := make([]any, len(handlers))
	anySuccess := false
	var firstErr error
	for range handlers {
		res := <-results
		data[res.index] = res.data
		if res.err == nil {
			anySuccess = true
		} else if firstErr == nil {
			firstErr = res.err
		}
	}

	resp := model.Response{Success: anySuccess}
	if len(data) == 1 {
		resp.Data = data[0]
	} else {
		resp.Data = data
	}
	if !anySuccess {
		resp.Error = fmt.Sprintf("all handlers failed: %v", firstErr)
		log.Error().Str("type", string(msg.Type)).Err(firstErr).Msg("Message handling failed")
	}
	return resp
}

// Publish is Send without caring about the response; it satisfies sinks that
// only emit events.
func (r *Router) Publish(msg model.Message) {
	r.Send(context.Background(), msg)
}
