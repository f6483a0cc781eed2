package database

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"taskhub/internal/config"
	"taskhub/pkg/logger"
)

// State is the gateway's view of document store availability.
type State int32

const (
	StateUnknown State = iota
	StateConnected
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

var errNoURI = errors.New("MONGODB_URI is not defined")

// Dialer opens a client and verifies it can reach the server.
type Dialer func(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error)

// Options configures a Gateway.
type Options struct {
	URI        string
	Database   string
	Collection string
	Retries    int
	Cooldown   time.Duration
	Timeout    time.Duration
	// AutoIndex creates the task indexes after each successful connect.
	AutoIndex bool
}

// OptionsFromConfig maps application config onto gateway options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoCollection,
		Retries:    cfg.MongoConnectRetries,
		Cooldown:   cfg.MongoRetryCooldown,
		Timeout:    cfg.StoreTimeout,
		AutoIndex:  true,
	}
}

// Gateway holds the process-wide document store connection. It connects lazily,
// remembers failures until a cooldown deadline, and is safe for concurrent use.
type Gateway struct {
	opts Options
	dial Dialer
	now  func() time.Time

	mu        sync.Mutex
	state     State
	retryAt   time.Time
	client    *mongo.Client
	coll      *mongo.Collection
	lastError error
	// dialing is closed when the in-flight connection attempt finishes.
	dialing chan struct{}
}

// NewGateway returns a gateway in the Unknown state. No connection is attempted.
func NewGateway(opts Options) *Gateway {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Gateway{opts: opts, dial: dialMongo, now: time.Now}
}

// WithDialer replaces the function used to open connections.
func (g *Gateway) WithDialer(d Dialer) *Gateway {
	g.dial = d
	return g
}

// WithClock replaces the time source used for cooldown deadlines.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// EnsureConnected opens the connection if needed and reports whether the store
// is usable. It never returns an error; failures are logged and remembered.
//
// Only one caller dials at a time and the dial runs without g.mu held. While a
// re-dial after the cooldown is in flight other callers get false at once;
// during the first connection they wait for the outcome or for ctx.
func (g *Gateway) EnsureConnected(ctx context.Context) bool {
	g.mu.Lock()
	switch g.state {
	case StateConnected:
		g.mu.Unlock()
		return true
	case StateUnavailable:
		if g.dialing != nil || g.now().Before(g.retryAt) {
			g.mu.Unlock()
			return false
		}
	}

	if g.opts.URI == "" {
		if g.lastError == nil {
			logger.Error(ctx, "Document store disabled; serving fallback data", "error", errNoURI)
		}
		g.setUnavailable(errNoURI)
		g.mu.Unlock()
		return false
	}

	done := g.dialing
	if done == nil {
		done = make(chan struct{})
		g.dialing = done
		go g.connect(context.WithoutCancel(ctx), done)
	}
	g.mu.Unlock()

	select {
	case <-done:
		return g.State() == StateConnected
	case <-ctx.Done():
		return false
	}
}

// connect runs one bounded connection attempt and publishes its outcome.
func (g *Gateway) connect(ctx context.Context, done chan struct{}) {
	defer close(done)

	dctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	client, err := g.connectWithRetry(dctx)
	cancel()

	var coll *mongo.Collection
	if err == nil {
		coll = client.Database(g.opts.Database).Collection(g.opts.Collection)
		if g.opts.AutoIndex {
			ictx, icancel := context.WithTimeout(ctx, g.opts.Timeout)
			if ierr := EnsureIndexes(ictx, coll); ierr != nil {
				logger.Warn(ctx, "Task index creation failed", "error", ierr)
			}
			icancel()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialing = nil
	if err != nil {
		logger.Error(ctx, "Document store connection failed", "error", err, "retry_in", g.opts.Cooldown.String())
		g.setUnavailable(err)
		return
	}
	g.client = client
	g.coll = coll
	g.state = StateConnected
	g.lastError = nil
	logger.Info(ctx, "Document store connected", "database", g.opts.Database, "collection", g.opts.Collection)
}

func (g *Gateway) connectWithRetry(ctx context.Context) (*mongo.Client, error) {
	var client *mongo.Client
	op := func() error {
		c, err := g.dial(ctx, g.opts.URI, g.opts.Timeout)
		if err != nil {
			logger.Debug(ctx, "Document store dial attempt failed", "error", err)
			return err
		}
		client = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.opts.Retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return client, nil
}

// setUnavailable must be called with g.mu held.
func (g *Gateway) setUnavailable(err error) {
	g.state = StateUnavailable
	g.lastError = err
	g.retryAt = g.now().Add(g.opts.Cooldown)
}

// MarkUnavailable records a store failure observed by a caller. The next
// connection attempt waits for the cooldown.
func (g *Gateway) MarkUnavailable(ctx context.Context, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateConnected {
		return
	}
	logger.Warn(ctx, "Document store marked unavailable", "error", err, "retry_in", g.opts.Cooldown.String())
	old := g.client
	g.client, g.coll = nil, nil
	g.setUnavailable(err)
	if old != nil {
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), g.opts.Timeout)
			defer cancel()
			_ = old.Disconnect(dctx)
		}()
	}
}

// State returns the current connection state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastError returns the failure that put the gateway in the Unavailable state.
func (g *Gateway) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastError
}

// Collection returns the task collection, or nil when not connected.
func (g *Gateway) Collection() *mongo.Collection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.coll
}

// Ping checks the live connection. Used by readiness probes.
func (g *Gateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return errors.New("document store not connected")
	}
	return client.Ping(ctx, readpref.Primary())
}

// Close waits for an in-flight dial, then disconnects the client, if any.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	done := g.dialing
	g.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	client := g.client
	g.client, g.coll = nil, nil
	g.state = StateUnknown
	g.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

func dialMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
