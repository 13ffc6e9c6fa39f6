package tests

import (
	"context"
	"testing"

	"github.com/ordergate/brokerd/pkg/communication/chat"
	chatmem "github.com/ordergate/brokerd/pkg/communication/chat/adapters/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMemoryAdapter(t *testing.T) {
	sender := chatmem.New()
	defer sender.Close()

	ctx := context.Background()
	msg := &chat.Message{
		ChannelID: "general",
		Text:      "Hello Chat",
	}

	err := sender.Send(ctx, msg)
	require.NoError(t, err)

	sent := sender.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, msg, sent[0])
}

func TestInstrumentedChatWrapper(t *testing.T) {
	base := chatmem.New()
	wrapper := chat.NewInstrumentedSender(base)
	err := wrapper.Send(context.Background(), &chat.Message{ChannelID: "ops", Text: "session degraded"})
	require.NoError(t, err)
}
