package pubsub

import (
	"context"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"

	"github.com/bazaarhq/bazaar-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/bazaar/topics/bz-operator-alerts", resourceName("bazaar", "bz-operator-alerts", "topics"))
	assert.Equal(t, "projects/other/topics/x", resourceName("bazaar", "projects/other/topics/x", "topics"))
	assert.Equal(t, "projects/bazaar/subscriptions/alerts-sub", resourceName("bazaar", " alerts-sub ", "subscriptions"))
	assert.Empty(t, resourceName("", "orders", "topics"))
	assert.Empty(t, resourceName("bazaar", "  ", "topics"))
}

func TestTopicNamesSkipsBlanks(t *testing.T) {
	names := topicNames(config.PubSubConfig{OrdersTopic: "orders", SettlementsTopic: " ", AlertsTopic: "alerts"})
	assert.Equal(t, []string{"orders", "alerts"}, names)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("orders"))
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
}

func TestPingNeedsTopics(t *testing.T) {
	c := &Client{client: &pubsub.Client{}, projectID: "bazaar"}
	assert.ErrorIs(t, c.Ping(context.Background()), errNoTopics)
}

func TestClientOptionsPreferInlineCredentials(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{ProjectID: "bazaar"}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/k.json"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: " /k.json "}), 1)
}
