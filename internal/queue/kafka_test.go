package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/models"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishKeysByOwner(t *testing.T) {
	w := &recordingWriter{}
	p := NewPublisherWithWriter(w)
	ev := models.TaskEvent{
		Action:     models.EventDeleted,
		TaskID:     "abc",
		Owner:      "alice",
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "alice", string(w.msgs[0].Key))

	var got models.TaskEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, ev, got)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNilPublisher(t *testing.T) {
	p := NewPublisher(context.Background(), nil, "task-events")
	assert.Nil(t, p)
	assert.NoError(t, p.Publish(context.Background(), models.TaskEvent{Owner: "alice"}))
	assert.NoError(t, p.Close())
}
