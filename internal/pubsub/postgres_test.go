package pubsub

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNameSanitizing(t *testing.T) {
	tests := []struct {
		channel  string
		expected string
	}{
		{"subscriptions", "subscriptions"},
		{"gqlsubs:subscriptions", "gqlsubs__subscriptions"},
		{"a:b:c", "a__b__c"},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			sanitized := sanitizeChannelName(tt.channel)
			assert.Equal(t, tt.expected, sanitized)
			assert.Equal(t, tt.channel, unsanitizeChannelName(sanitized))
		})
	}
}

func TestPostgresPubSub_PayloadTooLarge(t *testing.T) {
	ps := NewPostgresPubSub(nil, DefaultChannel)

	err := ps.Publish(context.Background(), DefaultChannel, []byte(strings.Repeat("x", MaxNotifyPayload+1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload too large")
}

func TestPostgresPubSub_SubscribeUnknownChannel(t *testing.T) {
	ps := NewPostgresPubSub(nil, DefaultChannel)

	_, err := ps.Subscribe(context.Background(), "elsewhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
	require.NoError(t, ps.Close())
}
