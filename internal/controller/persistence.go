package controller

import (
	"context"

	"taskhub/internal/database"
	"taskhub/internal/repository"
)

// Persistence selects the real store for a request.
type Persistence interface {
	// Primary returns the real store when it is usable.
	Primary(ctx context.Context) (repository.Store, bool)
	// MarkUnavailable reports a failure of the real store.
	MarkUnavailable(ctx context.Context, err error)
	// State describes the connection for probes.
	State() database.State
}

// GatewayPersistence serves the MongoDB store through the persistence gateway.
type GatewayPersistence struct {
	gw *database.Gateway
}

// NewGatewayPersistence adapts a gateway.
func NewGatewayPersistence(gw *database.Gateway) *GatewayPersistence {
	return &GatewayPersistence{gw: gw}
}

func (p *GatewayPersistence) Primary(ctx context.Context) (repository.Store, bool) {
	if !p.gw.EnsureConnected(ctx) {
		return nil, false
	}
	coll := p.gw.Collection()
	if coll == nil {
		return nil, false
	}
	return repository.NewMongoStore(coll), true
}

func (p *GatewayPersistence) MarkUnavailable(ctx context.Context, err error) {
	p.gw.MarkUnavailable(ctx, err)
}

func (p *GatewayPersistence) State() database.State {
	return p.gw.State()
}
