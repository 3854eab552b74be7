// Package slack implements the channel Adapter for Slack over the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Adapter implements channel.Adapter for Slack.
type Adapter struct {
	client    slackClient
	botToken  string
	mu        sync.Mutex
	connected bool
	closed    bool
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	BotToken string // xoxb-... Slack bot token
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	return &Adapter{client: opts.Client, botToken: opts.BotToken}, nil
}

// Connect verifies the bot credentials.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		a.client = slackapi.New(a.botToken)
	}

	if _, err := a.client.AuthTest(); err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.connected = true
	return nil
}

// Send posts text to the channel identity (a Slack channel or user ID).
func (a *Adapter) Send(ctx context.Context, channelIdentity, text string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	client := a.client
	a.mu.Unlock()

	if channelIdentity == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := client.PostMessage(channelIdentity, slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close shuts down the adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and the RetryAfter duration.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
