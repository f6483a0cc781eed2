package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// lazyClient returns a driver client that has not performed any I/O yet.
func lazyClient(t *testing.T) *mongo.Client {
	t.Helper()
	c, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func newTestGateway(uri string, dial Dialer) (*Gateway, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGateway(Options{
		URI:        uri,
		Database:   "taskhub_test",
		Collection: "tasks",
		Cooldown:   10 * time.Second,
		Timeout:    time.Second,
	}).WithDialer(dial).WithClock(clock.Now)
	return g, clock
}

func TestEnsureConnectedWithoutURI(t *testing.T) {
	var dials int32
	g, _ := newTestGateway("", func(context.Context, string, time.Duration) (*mongo.Client, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("unexpected")
	})

	assert.False(t, g.EnsureConnected(context.Background()))
	assert.False(t, g.EnsureConnected(context.Background()))
	assert.Equal(t, StateUnavailable, g.State())
	assert.ErrorIs(t, g.LastError(), errNoURI)
	assert.Zero(t, atomic.LoadInt32(&dials))
	assert.Nil(t, g.Collection())
}

func TestEnsureConnectedRemembersFailureUntilCooldown(t *testing.T) {
	var dials int32
	g, clock := newTestGateway("mongodb://db", func(context.Context, string, time.Duration) (*mongo.Client, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("connection refused")
	})
	ctx := context.Background()

	assert.False(t, g.EnsureConnected(ctx))
	assert.False(t, g.EnsureConnected(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))

	clock.Advance(11 * time.Second)
	assert.False(t, g.EnsureConnected(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestEnsureConnectedRetriesWithBackoff(t *testing.T) {
	var dials int32
	client := lazyClient(t)
	g, _ := newTestGateway("mongodb://db", func(context.Context, string, time.Duration) (*mongo.Client, error) {
		if atomic.AddInt32(&dials, 1) == 1 {
			return nil, errors.New("transient")
		}
		return client, nil
	})
	g.opts.Retries = 2

	assert.True(t, g.EnsureConnected(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestEnsureConnectedIsSingleton(t *testing.T) {
	var dials int32
	client := lazyClient(t)
	g, _ := newTestGateway("mongodb://db", func(context.Context, string, time.Duration) (*mongo.Client, error) {
		atomic.AddInt32(&dials, 1)
		return client, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, g.EnsureConnected(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	assert.Equal(t, StateConnected, g.State())
	require.NotNil(t, g.Collection())
	assert.Equal(t, "tasks", g.Collection().Name())
}

// blockingDialer parks every dial until release is closed. With fail set it
// fails at once instead.
func blockingDialer(client *mongo.Client, fail *atomic.Bool) (Dialer, chan struct{}, chan struct{}) {
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	return func(ctx context.Context, _ string, _ time.Duration) (*mongo.Client, error) {
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		entered <- struct{}{}
		select {
		case <-release:
			return client, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, entered, release
}

func TestRedialDoesNotBlockOtherCallers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	dial, entered, release := blockingDialer(lazyClient(t), &fail)
	g, clock := newTestGateway("mongodb://db", dial)
	g.opts.Timeout = 5 * time.Second

	require.False(t, g.EnsureConnected(context.Background()))
	fail.Store(false)
	clock.Advance(11 * time.Second)

	result := make(chan bool, 1)
	go func() { result <- g.EnsureConnected(context.Background()) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, g.EnsureConnected(ctx))
	assert.NoError(t, ctx.Err(), "caller waited for the dial")
	assert.Equal(t, StateUnavailable, g.State())

	close(release)
	assert.True(t, <-result)
	assert.Equal(t, StateConnected, g.State())
}

func TestFirstConnectWaiterHonorsDeadline(t *testing.T) {
	var fail atomic.Bool
	dial, entered, release := blockingDialer(lazyClient(t), &fail)
	g, _ := newTestGateway("mongodb://db", dial)
	g.opts.Timeout = 5 * time.Second

	result := make(chan bool, 1)
	go func() { result <- g.EnsureConnected(context.Background()) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.False(t, g.EnsureConnected(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateUnknown, g.State())

	close(release)
	assert.True(t, <-result)
	assert.True(t, g.EnsureConnected(context.Background()))
	assert.Len(t, entered, 0)
}

func TestMarkUnavailable(t *testing.T) {
	var dials int32
	g, clock := newTestGateway("mongodb://db", func(context.Context, string, time.Duration) (*mongo.Client, error) {
		atomic.AddInt32(&dials, 1)
		return lazyClient(t), nil
	})
	ctx := context.Background()

	require.True(t, g.EnsureConnected(ctx))
	g.MarkUnavailable(ctx, errors.New("socket closed"))

	assert.Equal(t, StateUnavailable, g.State())
	assert.Nil(t, g.Collection())
	assert.False(t, g.EnsureConnected(ctx))

	clock.Advance(time.Minute)
	assert.True(t, g.EnsureConnected(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unavailable", StateUnavailable.String())
}
