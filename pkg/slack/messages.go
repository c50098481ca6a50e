package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/anvil-ha/anvil/pkg/messaging"
)

// AlertNotificationBlocks builds Slack Block Kit blocks for an Alert row
// (§3), one of Component O's two ways of rendering an alert (the other
// being the plain-text fallback passed alongside the blocks).
func AlertNotificationBlocks(alert AlertInfo) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s %s: %s", messaging.LevelEmoji(alert.Level), messaging.LevelLabel(alert.Level), alert.Title), true, false),
	)

	blocks := []goslack.Block{header}

	if alert.HostName != "" {
		section := goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Host:* %s", alert.HostName), false, false),
			nil, nil,
		)
		blocks = append(blocks, section)
	}

	if alert.Message != "" {
		msgSection := goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, messaging.Truncate(alert.Message, 500), false, false),
			nil, nil,
		)
		blocks = append(blocks, msgSection)
	}

	return blocks
}
