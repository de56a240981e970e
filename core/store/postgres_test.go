package store

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to TEST_POSTGRES_DSN and applies the initial schema on a clean slate.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)

	schema, err := os.ReadFile("../../migrations/0001_init.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE orders, tenants RESTART IDENTITY`)
	require.NoError(t, err)
	return db
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewPostgresStore(db)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.AppendOrder(ctx, sampleOrder("10")))
	require.NoError(t, s.AppendOrder(ctx, sampleOrder("11")))
	assert.Error(t, s.AppendOrder(ctx, sampleOrder("10")), "duplicate order ids are rejected")

	orders, err := s.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, sampleOrder("10"), orders[0])

	tenant, err := ParseTenant([]byte(`{"ownerLineId":"Uowner","shop":"A"}`))
	require.NoError(t, err)
	require.NoError(t, s.AppendTenant(ctx, tenant))

	got, err := s.TenantByOwner(ctx, "Uowner")
	require.NoError(t, err)
	assert.JSONEq(t, `"A"`, string(got.Attrs["shop"]))

	_, err = s.TenantByOwner(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
