package syncstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/dapr/go-sdk/service/common"
	daprs "github.com/dapr/go-sdk/service/grpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/playlistwatch/playlistwatch/model"
)

const keyPrefix = "videoSync:"

// syncEnvelope is the wire form published on the sync topic. DeviceID lets
// subscribers drop their own echoes.
type syncEnvelope struct {
	DeviceID string              `json:"device_id"`
	Data     model.VideoSyncData `json:"data"`
}

// DaprStore is a Store backed by a Dapr state store and pubsub topic.
type DaprStore struct {
	client     daprc.Client
	deviceID   string
	storeName  string
	pubsubName string
	topic      string
	appPort    string

	mu       sync.Mutex
	handlers []func(context.Context, model.VideoSyncData) error
}

// NewDaprStore connects to the Dapr sidecar. Each store instance gets its own
// device id for echo suppression.
func NewDaprStore(storeName, pubsubName, topic, appPort string) (*DaprStore, error) {
	client, err := daprc.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Dapr client: %w", err)
	}
	return &DaprStore{
		client:     client,
		deviceID:   uuid.New().String(),
		storeName:  storeName,
		pubsubName: pubsubName,
		topic:      topic,
		appPort:    appPort,
	}, nil
}

// SetVideoStatus stores the record and announces it to other devices. Records
// older than the stored one are dropped without a write.
func (s *DaprStore) SetVideoStatus(ctx context.Context, data model.VideoSyncData) error {
	data = clampFuture(data, time.Now())

	current, err := s.GetVideoStatus(ctx, data.VideoID)
	if err != nil {
		return err
	}
	if !newer(data, current) {
		log.Debug().
			Str("video_id", data.VideoID).
			Time("incoming", data.Timestamp).
			Msg("Dropping stale sync write")
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}
	if err := s.client.SaveState(ctx, s.storeName, keyPrefix+data.VideoID, raw, nil); err != nil {
		return fmt.Errorf("failed to save sync record: %w", err)
	}

	envelope, err := json.Marshal(syncEnvelope{DeviceID: s.deviceID, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal sync envelope: %w", err)
	}
	if err := s.client.PublishEvent(ctx, s.pubsubName, s.topic, envelope); err != nil {
		return fmt.Errorf("failed to publish sync record: %w", err)
	}

	log.Debug().
		Str("video_id", data.VideoID).
		Str("status", string(data.Status)).
		Msg("Published video sync record")
	return nil
}

// GetVideoStatus loads the stored record for a video.
func (s *DaprStore) GetVideoStatus(ctx context.Context, videoID string) (*model.VideoSyncData, error) {
	resp, err := s.client.GetState(ctx, s.storeName, keyPrefix+videoID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync record: %w", err)
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}
	var data model.VideoSyncData
	if err := json.Unmarshal(resp.Value, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync record: %w", err)
	}
	return &data, nil
}

// Subscribe registers a handler for remote writes.
func (s *DaprStore) Subscribe(handler func(context.Context, model.VideoSyncData) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// StartListening starts the Dapr topic subscription server. Remote records
// newer than the local copy are stored locally and fanned out to handlers.
func (s *DaprStore) StartListening(ctx context.Context) error {
	server, err := daprs.NewService(s.appPort)
	if err != nil {
		return fmt.Errorf("failed to create Dapr service: %w", err)
	}

	subscription := &common.Subscription{
		PubsubName: s.pubsubName,
		Topic:      s.topic,
		Route:      "/" + s.topic,
	}
	err = server.AddTopicEventHandler(subscription, func(ctx context.Context, e *common.TopicEvent) (retry bool, err error) {
		var envelope syncEnvelope
		if err := json.Unmarshal(e.RawData, &envelope); err != nil {
			log.Error().Err(err).Msg("Failed to unmarshal sync envelope")
			return false, err
		}
		if envelope.DeviceID == s.deviceID {
			return false, nil
		}
		if err := s.applyRemote(ctx, envelope.Data); err != nil {
			log.Error().
				Err(err).
				Str("video_id", envelope.Data.VideoID).
				Msg("Failed to apply remote sync record")
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("failed to add topic event handler for %s: %w", s.topic, err)
	}

	log.Info().
		Str("topic", s.topic).
		Str("port", s.appPort).
		Msg("Starting sync store subscription server")

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Sync store subscription server failed")
		}
	}()
	return nil
}

func (s *DaprStore) applyRemote(ctx context.Context, data model.VideoSyncData) error {
	current, err := s.GetVideoStatus(ctx, data.VideoID)
	if err != nil {
		return err
	}
	if !newer(data, current) {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}
	if err := s.client.SaveState(ctx, s.storeName, keyPrefix+data.VideoID, raw, nil); err != nil {
		return fmt.Errorf("failed to save sync record: %w", err)
	}

	s.mu.Lock()
	handlers := append([]func(context.Context, model.VideoSyncData) error(nil), s.handlers...)
	s.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the Dapr client.
func (s *DaprStore) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
