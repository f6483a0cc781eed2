package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/models"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed int
	closed    bool
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	r.committed += len(msgs)
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type recordingInvalidator struct {
	owners []string
}

func (i *recordingInvalidator) Invalidate(_ context.Context, owner string) {
	i.owners = append(i.owners, owner)
}

func eventMessage(t *testing.T, ev models.TaskEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(ev.Owner), Value: b}
}

func TestRunInvalidatesOwnersAndCommitsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		eventMessage(t, models.TaskEvent{Action: models.EventCreated, TaskID: "1", Owner: "alice"}),
		{Value: []byte("not json")},
		eventMessage(t, models.TaskEvent{Action: models.EventDeleted, TaskID: "2", Owner: "bob"}),
		eventMessage(t, models.TaskEvent{Action: "archived", TaskID: "3", Owner: "carol"}),
	}}
	inv := &recordingInvalidator{}
	w := New(r, inv)

	w.Run(ctx)

	assert.Equal(t, []string{"alice", "bob"}, inv.owners)
	assert.Equal(t, 4, r.committed)
	assert.Equal(t, int64(4), w.Processed())
	assert.True(t, r.closed)
}

func TestHandleMessageRejectsMissingOwner(t *testing.T) {
	w := New(&fakeReader{}, &recordingInvalidator{})
	b, err := json.Marshal(models.TaskEvent{Action: models.EventUpdated, TaskID: "1"})
	require.NoError(t, err)

	err = w.handleMessage(context.Background(), b)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
