/*
Package communication provides messaging and notification services.

Subpackages:

  - chat: Real-time chat/alerting (Slack)

Usage:

	import (
		"github.com/ordergate/brokerd/pkg/communication/chat"
		"github.com/ordergate/brokerd/pkg/communication/chat/adapters/slack"
	)

	sender, err := slack.New(cfg)
	err = sender.Send(ctx, &chat.Message{ChannelID: "ops", Text: "session degraded"})
*/
package communication
