package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTenantKeepsUnknownFields(t *testing.T) {
	tenant, err := ParseTenant([]byte(`{"ownerLineId":"U9","name":"Shop","rates":[90,80]}`))
	require.NoError(t, err)
	assert.Equal(t, "U9", tenant.OwnerLineID)

	out, err := json.Marshal(tenant)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ownerLineId":"U9","name":"Shop","rates":[90,80]}`, string(out))
}

func TestParseTenantWithoutOwner(t *testing.T) {
	tenant, err := ParseTenant([]byte(`{"name":"Shop"}`))
	require.NoError(t, err)
	assert.Empty(t, tenant.OwnerLineID)

	tenant, err = ParseTenant([]byte(`{"ownerLineId":42}`))
	require.NoError(t, err)
	assert.Empty(t, tenant.OwnerLineID)
	out, err := json.Marshal(tenant)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ownerLineId":42}`, string(out))
}

func TestParseTenantRejectsNonObjects(t *testing.T) {
	for _, body := range []string{``, `[]`, `"x"`, `42`, `null`, `{"a":`} {
		_, err := ParseTenant([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidTenant, body)
	}
}

func TestOrderIDsStrictlyIncreasing(t *testing.T) {
	var ids OrderIDs
	at := time.UnixMilli(1714557600000)
	assert.Equal(t, "1714557600000", ids.Next(at))
	assert.Equal(t, "1714557600001", ids.Next(at))
	assert.Equal(t, "1714557600002", ids.Next(at.Add(-time.Second)))
	assert.Equal(t, "1714557605000", ids.Next(at.Add(5*time.Second)))
}

func TestOrderValidate(t *testing.T) {
	require.NoError(t, sampleOrder("1").Validate())

	cases := map[string]func(*Order){
		"empty id":     func(o *Order) { o.OrderID = "" },
		"empty user":   func(o *Order) { o.UserID = "" },
		"empty stock":  func(o *Order) { o.Stock = "" },
		"four digits":  func(o *Order) { o.Number = "1234" },
		"letters":      func(o *Order) { o.Number = "12a" },
		"negative":     func(o *Order) { o.Amount = -1 },
		"wrong status": func(o *Order) { o.Status = "paid" },
		"no timestamp": func(o *Order) { o.CreatedAt = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := sampleOrder("1")
			mutate(&o)
			assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
		})
	}
}
