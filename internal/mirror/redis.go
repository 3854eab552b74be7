package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lifelinehq/lifeline/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	client *redis.Client
}

// RedisOpts holds connection parameters for the mirror Redis server.
type RedisOpts struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore creates a RedisStore. It does not dial; the first operation
// establishes the connection.
func NewRedisStore(opts RedisOpts) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("mirror: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 10 * time.Second,
	})
	return &RedisStore{client: client}, nil
}

// Ping verifies the mirror connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("mirror: ping: %w", err)
	}
	return nil
}

// PutIncident replaces the mirrored incident document.
func (s *RedisStore) PutIncident(ctx context.Context, inc models.Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("mirror: marshal incident %s: %w", inc.ID, err)
	}
	if err := s.client.Set(ctx, incidentKey(inc.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("mirror: put incident %s: %w", inc.ID, err)
	}
	return nil
}

// PutConversation replaces the mirrored ordered message log.
func (s *RedisStore) PutConversation(ctx context.Context, conversationID string, msgs []models.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("mirror: marshal conversation %s: %w", conversationID, err)
	}
	if err := s.client.Set(ctx, conversationKey(conversationID), data, 0).Err(); err != nil {
		return fmt.Errorf("mirror: put conversation %s: %w", conversationID, err)
	}
	return nil
}

// GetIncident returns the mirrored incident document.
func (s *RedisStore) GetIncident(ctx context.Context, incidentID string) (models.Incident, bool, error) {
	data, err := s.client.Get(ctx, incidentKey(incidentID)).Bytes()
	if err == redis.Nil {
		return models.Incident{}, false, nil
	}
	if err != nil {
		return models.Incident{}, false, fmt.Errorf("mirror: get incident %s: %w", incidentID, err)
	}
	var inc models.Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return models.Incident{}, false, fmt.Errorf("mirror: unmarshal incident %s: %w", incidentID, err)
	}
	return inc, true, nil
}

// GetConversation returns the mirrored ordered message log.
func (s *RedisStore) GetConversation(ctx context.Context, conversationID string) ([]models.Message, bool, error) {
	data, err := s.client.Get(ctx, conversationKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mirror: get conversation %s: %w", conversationID, err)
	}
	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, false, fmt.Errorf("mirror: unmarshal conversation %s: %w", conversationID, err)
	}
	return msgs, true, nil
}

// IncidentExists reports whether the incident is present in the mirror.
func (s *RedisStore) IncidentExists(ctx context.Context, incidentID string) (bool, error) {
	n, err := s.client.Exists(ctx, incidentKey(incidentID)).Result()
	if err != nil {
		return false, fmt.Errorf("mirror: exists %s: %w", incidentID, err)
	}
	return n > 0, nil
}

// Delete removes both mirror entries for an incident.
func (s *RedisStore) Delete(ctx context.Context, incidentID, conversationID string) error {
	if err := s.client.Del(ctx, incidentKey(incidentID), conversationKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("mirror: delete %s: %w", incidentID, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
