// Package store persists tenants and orders. Every append is durable before it
// becomes visible: backends flush first and only then update what readers see.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the record store used by the wager flow and the admin API.
type Store interface {
	// Load reads the persisted records. Missing backing data yields an empty store.
	Load(ctx context.Context) error
	AppendOrder(ctx context.Context, o Order) error
	AppendTenant(ctx context.Context, t Tenant) error
	Orders(ctx context.Context) ([]Order, error)
	Tenants(ctx context.Context) ([]Tenant, error)
	// TenantByOwner returns the first tenant owned by ownerID. Uniqueness is not enforced.
	TenantByOwner(ctx context.Context, ownerID string) (Tenant, error)
	Ping(ctx context.Context) error
	Close() error
}
