package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/lifelinehq/lifeline/internal/models"
)

// FakeStore implements Store in memory for testing. It records write counts
// and can be told to fail, simulating a mirror outage.
type FakeStore struct {
	mu            sync.Mutex
	incidents     map[string]models.Incident
	conversations map[string][]models.Message
	failing       bool
	putCount      int
	deleteCount   int
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		incidents:     make(map[string]models.Incident),
		conversations: make(map[string][]models.Message),
	}
}

// SetFailing makes every subsequent operation return an error.
func (f *FakeStore) SetFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

// PutIncident replaces the mirrored incident document.
func (f *FakeStore) PutIncident(ctx context.Context, inc models.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("fake mirror: unavailable")
	}
	f.incidents[inc.ID] = inc
	f.putCount++
	return nil
}

// PutConversation replaces the mirrored ordered message log.
func (f *FakeStore) PutConversation(ctx context.Context, conversationID string, msgs []models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("fake mirror: unavailable")
	}
	cp := make([]models.Message, len(msgs))
	copy(cp, msgs)
	f.conversations[conversationID] = cp
	f.putCount++
	return nil
}

// GetIncident returns the mirrored incident document.
func (f *FakeStore) GetIncident(ctx context.Context, incidentID string) (models.Incident, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return models.Incident{}, false, fmt.Errorf("fake mirror: unavailable")
	}
	inc, ok := f.incidents[incidentID]
	return inc, ok, nil
}

// GetConversation returns the mirrored ordered message log.
func (f *FakeStore) GetConversation(ctx context.Context, conversationID string) ([]models.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, false, fmt.Errorf("fake mirror: unavailable")
	}
	msgs, ok := f.conversations[conversationID]
	if !ok {
		return nil, false, nil
	}
	cp := make([]models.Message, len(msgs))
	copy(cp, msgs)
	return cp, true, nil
}

// IncidentExists reports whether the incident is present in the mirror.
func (f *FakeStore) IncidentExists(ctx context.Context, incidentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, fmt.Errorf("fake mirror: unavailable")
	}
	_, ok := f.incidents[incidentID]
	return ok, nil
}

// Delete removes both mirror entries for an incident.
func (f *FakeStore) Delete(ctx context.Context, incidentID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("fake mirror: unavailable")
	}
	delete(f.incidents, incidentID)
	delete(f.conversations, conversationID)
	f.deleteCount++
	return nil
}

// --- Test helpers ---

// PutCount returns the number of successful put operations.
func (f *FakeStore) PutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCount
}

// DeleteCount returns the number of successful delete operations.
func (f *FakeStore) DeleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCount
}

// Seed stores an incident and its conversation directly, bypassing counts.
func (f *FakeStore) Seed(inc models.Incident, msgs []models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents[inc.ID] = inc
	cp := make([]models.Message, len(msgs))
	copy(cp, msgs)
	f.conversations[inc.ConversationID] = cp
}
