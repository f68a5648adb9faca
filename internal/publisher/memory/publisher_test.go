package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "runs", crawler.CompletionEvent{
		RunID:       "run_1",
		ResultID:    "fitness_1700000000_abcd1234",
		Label:       "fitness",
		Records:     3,
		CompletedAt: time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "runs", msgs[0].Topic)
	assert.JSONEq(t, `{
		"run_id":"run_1",
		"result_id":"fitness_1700000000_abcd1234",
		"label":"fitness",
		"records":3,
		"completed_at":"2023-11-14T22:13:20Z"
	}`, string(msgs[0].Data))
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	assert.Equal(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Topic = "modified"
	assert.Equal(t, "runs", pub.Messages()[0].Topic, "Messages() returns a copy")
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "runs", make(chan int))
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
}
