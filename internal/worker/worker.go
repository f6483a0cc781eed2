package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"taskhub/internal/models"
	"taskhub/pkg/logger"
)

// MessageReader is the subset of *kafka.Reader the worker needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Invalidator drops cached task lists for an owner.
type Invalidator interface {
	Invalidate(ctx context.Context, owner string)
}

// CacheWorker consumes task events and invalidates the owner's cached lists, so
// every replica drops stale reads after a write made elsewhere.
type CacheWorker struct {
	reader    MessageReader
	cache     Invalidator
	processed atomic.Int64
}

// NewReader builds a consumer-group reader for the task events topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// New returns a worker reading from r.
func New(r MessageReader, cache Invalidator) *CacheWorker {
	return &CacheWorker{reader: r, cache: cache}
}

// Run consumes until ctx is cancelled. One consumer per process; replicas share
// partitions through the consumer group.
func (w *CacheWorker) Run(ctx context.Context) {
	defer w.reader.Close()
	logger.Info(ctx, "Kafka consumer started")
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info(ctx, "Kafka consumer stopped", "processed", w.processed.Load())
				return
			}
			logger.Error(ctx, "Worker fetch failed", "error", err)
			continue
		}
		if err := w.handleMessage(ctx, msg.Value); err != nil {
			logger.Error(ctx, "Worker handle failed", "error", err, "payload", string(msg.Value))
			// commit anyway so a poison message does not block the partition
		}
		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "Worker commit failed", "error", err)
			continue
		}
		w.processed.Add(1)
	}
}

// Processed reports how many messages were committed.
func (w *CacheWorker) Processed() int64 {
	return w.processed.Load()
}

func (w *CacheWorker) handleMessage(ctx context.Context, payload []byte) error {
	var ev models.TaskEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode task event: %w", err)
	}
	if ev.Owner == "" {
		return fmt.Errorf("task event %q has no owner", ev.TaskID)
	}
	switch ev.Action {
	case models.EventCreated, models.EventUpdated, models.EventDeleted:
		w.cache.Invalidate(ctx, ev.Owner)
		logger.Debug(ctx, "Task cache invalidated", "owner", ev.Owner, "action", ev.Action, "task_id", ev.TaskID)
	default:
		logger.Debug(ctx, "Ignoring task event", "action", ev.Action)
	}
	return nil
}
