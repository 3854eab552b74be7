package channel

import (
	"context"
	"fmt"
	"sync"
)

// SentNotice records one delivered notice for test assertions.
type SentNotice struct {
	ChannelIdentity string
	Text            string
}

// MockAdapter implements Adapter for testing. It records sent notices and
// can simulate delivery failures.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	failing   bool
	sent      []SentNotice
}

// NewMockAdapter creates a MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// SetFailing makes subsequent Send calls return an error.
func (m *MockAdapter) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Send records the notice.
func (m *MockAdapter) Send(ctx context.Context, channelIdentity, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if m.failing {
		return fmt.Errorf("mock adapter: delivery failed")
	}
	m.sent = append(m.sent, SentNotice{ChannelIdentity: channelIdentity, Text: text})
	return nil
}

// Close shuts down the mock adapter.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
	return nil
}

// --- Test helpers ---

// AllSent returns a copy of all delivered notices.
func (m *MockAdapter) AllSent() []SentNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentNotice, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns the number of delivered notices.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
