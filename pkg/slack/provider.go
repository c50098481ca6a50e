package slack

import (
	"context"
	"log/slog"

	"github.com/anvil-ha/anvil/pkg/messaging"
)

// Provider implements messaging.Provider for Slack.
type Provider struct {
	notifier *Notifier
	logger   *slog.Logger
}

// NewProvider creates a Slack messaging provider wrapping the given notifier.
func NewProvider(notifier *Notifier, logger *slog.Logger) *Provider {
	return &Provider{notifier: notifier, logger: logger}
}

func (p *Provider) Name() string { return "slack" }

func (p *Provider) PostAlert(ctx context.Context, msg messaging.AlertMessage) (*messaging.MessageRef, error) {
	alert := AlertInfo{
		AlertUUID: msg.AlertUUID,
		HostName:  msg.HostName,
		Level:     msg.Level,
		Title:     msg.Title,
		Message:   msg.Message,
	}

	channelID, ts, err := p.notifier.PostAlert(ctx, alert)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, nil // notifier disabled
	}

	return &messaging.MessageRef{
		Provider:  "slack",
		ChannelID: channelID,
		MessageID: ts,
	}, nil
}
