package syncstore

import (
	"context"
	"sync"
	"time"

	"github.com/playlistwatch/playlistwatch/model"
)

// MemoryStore is an in-process Store for tests and single-device runs.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]model.VideoSyncData
	handlers []func(context.Context, model.VideoSyncData) error
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.VideoSyncData)}
}

// SetVideoStatus stores the record unless a newer one is already present.
func (s *MemoryStore) SetVideoStatus(_ context.Context, data model.VideoSyncData) error {
	data = clampFuture(data, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.records[data.VideoID]; ok && !newer(data, &current) {
		return nil
	}
	s.records[data.VideoID] = data
	return nil
}

// GetVideoStatus returns the stored record, or nil when absent.
func (s *MemoryStore) GetVideoStatus(_ context.Context, videoID string) (*model.VideoSyncData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.records[videoID]
	if !ok {
		return nil, nil
	}
	return &data, nil
}

// Subscribe registers a handler for records injected with ApplyRemote.
func (s *MemoryStore) Subscribe(handler func(context.Context, model.VideoSyncData) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// ApplyRemote simulates a record arriving from another device: it stores the
// record under last-write-wins and notifies subscribers when it won.
func (s *MemoryStore) ApplyRemote(ctx context.Context, data model.VideoSyncData) error {
	s.mu.Lock()
	if current, ok := s.records[data.VideoID]; ok && !newer(data, &current) {
		s.mu.Unlock()
		return nil
	}
	s.records[data.VideoID] = data
	handlers := append([]func(context.Context, model.VideoSyncData) error(nil), s.handlers...)
	s.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
