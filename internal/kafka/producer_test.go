package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	topic, key string
	value      []byte
}

func (r *recordingPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	r.topic, r.key, r.value = topic, key, value
	return nil
}

func TestPublishJSON(t *testing.T) {
	pub := &recordingPublisher{}
	err := PublishJSON(context.Background(), pub, "ticketing.order.completed", "order-1", map[string]int{"quantity": 2})
	require.NoError(t, err)

	assert.Equal(t, "ticketing.order.completed", pub.topic)
	assert.Equal(t, "order-1", pub.key)

	var body map[string]int
	require.NoError(t, json.Unmarshal(pub.value, &body))
	assert.Equal(t, 2, body["quantity"])
}

func TestPublishJSONRejectsUnmarshalable(t *testing.T) {
	err := PublishJSON(context.Background(), NopPublisher{}, "t", "k", make(chan int))
	assert.Error(t, err)
}
