// Package redisstore persists scheduler and webhook registrations in Redis so
// they survive a process restart and can be rehydrated on startup.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/flowmesh/flowmesh/internal/app/storage"
)

const (
	schedulesKey = "flowmesh:schedules"
	webhooksKey  = "flowmesh:webhooks"
)

// Store implements storage.RegistrationStore on a Redis hash per record kind.
type Store struct {
	client *redis.Client
}

var _ storage.RegistrationStore = (*Store)(nil)

// New wraps an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) SaveSchedule(ctx context.Context, rec storage.ScheduleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, schedulesKey, rec.WorkflowID, data).Err()
}

func (s *Store) DeleteSchedule(ctx context.Context, workflowID string) error {
	return s.client.HDel(ctx, schedulesKey, workflowID).Err()
}

func (s *Store) ListSchedules(ctx context.Context) ([]storage.ScheduleRecord, error) {
	raw, err := s.client.HGetAll(ctx, schedulesKey).Result()
	if err != nil {
		return nil, err
	}
	result := make([]storage.ScheduleRecord, 0, len(raw))
	for id, data := range raw {
		var rec storage.ScheduleRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode schedule %s: %w", id, err)
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) SaveWebhook(ctx context.Context, rec storage.WebhookRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, webhooksKey, rec.WorkflowID, data).Err()
}

func (s *Store) DeleteWebhook(ctx context.Context, workflowID string) error {
	return s.client.HDel(ctx, webhooksKey, workflowID).Err()
}

func (s *Store) ListWebhooks(ctx context.Context) ([]storage.WebhookRecord, error) {
	raw, err := s.client.HGetAll(ctx, webhooksKey).Result()
	if err != nil {
		return nil, err
	}
	result := make([]storage.WebhookRecord, 0, len(raw))
	for id, data := range raw {
		var rec storage.WebhookRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode webhook %s: %w", id, err)
		}
		result = append(result, rec)
	}
	return result, nil
}
