// Package messaging defines the provider-agnostic interface Component O
// (the Alert notifier, §2) forwards Alert rows through. Anvil wires a
// single Slack provider (pkg/slack), but the interface stays
// platform-agnostic the way the teacher's notification layer does.
package messaging

import "context"

// Provider is the interface a chat platform implements to receive
// outbound Alert forwarding.
type Provider interface {
	// Name returns the provider identifier ("slack").
	Name() string

	// PostAlert sends an alert notification to the configured channel.
	// Returns a MessageRef identifying the posted message, or nil if the
	// provider is disabled (no credentials configured).
	PostAlert(ctx context.Context, msg AlertMessage) (*MessageRef, error)
}
