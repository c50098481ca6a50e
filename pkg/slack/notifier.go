// Package slack implements Component O's outbound half: forwarding
// Alert rows (§3) to a single human-watched Slack channel. There is no
// inbound surface — no slash commands, no interactive buttons — per
// SPEC_FULL.md's "optional Slack forwarding... to a human channel".
package slack

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier sends alert messages to a single configured Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// will be a noop (logging only).
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// IsEnabled returns true if the notifier has a valid Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// PostAlert sends an alert notification to the configured channel.
// Returns the channel ID and message timestamp for tracking.
func (n *Notifier) PostAlert(ctx context.Context, alert AlertInfo) (channelID, ts string, err error) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping alert post",
			"alert_uuid", alert.AlertUUID,
			"title", alert.Title,
		)
		return "", "", nil
	}

	blocks := AlertNotificationBlocks(alert)
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fmt.Sprintf("%s: %s", alert.Level, alert.Title), false),
	}

	channelID, ts, err = n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return "", "", fmt.Errorf("posting alert to slack: %w", err)
	}

	n.logger.Info("posted alert to slack",
		"alert_uuid", alert.AlertUUID,
		"channel", channelID,
		"ts", ts,
	)
	return channelID, ts, nil
}
