// Package channel delivers outbound notices (inactivity warnings, closing
// notes) to the chat platform a TEXT incident arrived from.
package channel

import "context"

// Adapter is the interface platform-specific implementations satisfy.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Send delivers text to a channel identity on the platform.
	Send(ctx context.Context, channelIdentity, text string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}
