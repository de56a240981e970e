package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Status is the lifecycle state of an order. Only StatusPending is ever assigned here.
type Status string

// StatusPending marks an order waiting for its draw result.
const StatusPending Status = "pending"

// CreatedAtLayout formats Order.CreatedAt to minute precision.
const CreatedAtLayout = "2006-01-02 15:04"

var numberRe = regexp.MustCompile(`^[0-9]{3}$`)

// ErrInvalidOrder is returned when an order is missing a field or carries an invalid one.
var ErrInvalidOrder = errors.New("store: invalid order")

// Order is a single recorded wager.
type Order struct {
	OrderID   string `json:"orderId" db:"order_id"`
	UserID    string `json:"userId" db:"user_id"`
	Stock     string `json:"stock" db:"stock"`
	Number    string `json:"number" db:"number"`
	Amount    int64  `json:"amount" db:"amount"`
	Status    Status `json:"status" db:"status"`
	CreatedAt string `json:"createdAt" db:"created_at"`
	Platform  string `json:"platform,omitempty" db:"platform"`
}

// Validate reports whether every field required for persistence is present and well formed.
func (o Order) Validate() error {
	switch {
	case o.OrderID == "":
		return fmt.Errorf("%w: empty orderId", ErrInvalidOrder)
	case o.UserID == "":
		return fmt.Errorf("%w: empty userId", ErrInvalidOrder)
	case o.Stock == "":
		return fmt.Errorf("%w: empty stock", ErrInvalidOrder)
	case !numberRe.MatchString(o.Number):
		return fmt.Errorf("%w: number %q is not three digits", ErrInvalidOrder, o.Number)
	case o.Amount <= 0:
		return fmt.Errorf("%w: amount %d is not positive", ErrInvalidOrder, o.Amount)
	case o.Status != StatusPending:
		return fmt.Errorf("%w: status %q", ErrInvalidOrder, o.Status)
	case o.CreatedAt == "":
		return fmt.Errorf("%w: empty createdAt", ErrInvalidOrder)
	}
	return nil
}

// OrderIDs hands out order ids derived from the creation time in milliseconds.
// Ids are strictly increasing for one generator even when two orders share a millisecond.
type OrderIDs struct {
	mu   sync.Mutex
	last int64
}

// Next returns the id for an order created at now.
func (g *OrderIDs) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return strconv.FormatInt(ms, 10)
}

// ErrInvalidTenant is returned when a tenant payload is not a JSON object.
var ErrInvalidTenant = errors.New("store: tenant must be a JSON object")

const ownerKey = "ownerLineId"

// Tenant is a shop owner record. Only ownerLineId is interpreted; every other
// attribute is caller-supplied and kept verbatim.
type Tenant struct {
	OwnerLineID string
	Attrs       map[string]json.RawMessage
}

// ParseTenant decodes a tenant from a JSON object.
func ParseTenant(data []byte) (Tenant, error) {
	var t Tenant
	if err := t.UnmarshalJSON(data); err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// MarshalJSON writes the tenant back as the object it was created from.
func (t Tenant) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.Attrs)+1)
	for k, v := range t.Attrs {
		out[k] = v
	}
	if t.OwnerLineID != "" {
		owner, err := json.Marshal(t.OwnerLineID)
		if err != nil {
			return nil, err
		}
		out[ownerKey] = owner
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts any JSON object; a non-string ownerLineId is kept as an opaque attribute.
func (t *Tenant) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrInvalidTenant
	}
	attrs := make(map[string]json.RawMessage)
	if err := json.Unmarshal(trimmed, &attrs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTenant, err)
	}
	var owner string
	if raw, ok := attrs[ownerKey]; ok {
		_ = json.Unmarshal(raw, &owner)
	}
	t.OwnerLineID = owner
	t.Attrs = attrs
	return nil
}

// Document is the persisted layout: two ordered sequences of tenants and orders.
type Document struct {
	Tenants []Tenant `json:"tenants"`
	Orders  []Order  `json:"orders"`
}

func (d *Document) normalize() {
	if d.Tenants == nil {
		d.Tenants = []Tenant{}
	}
	if d.Orders == nil {
		d.Orders = []Order{}
	}
}
