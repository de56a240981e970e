package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/store"
)

const adminToken = "s3cret"

func testConfig() *coreconfig.Config {
	cfg := &coreconfig.Config{}
	cfg.Line.WebhookPath = "/webhook"
	cfg.Admin.Token = adminToken
	cfg.HTTP.MetricsEnabled = true
	return cfg
}

func newTestServer(t *testing.T, cfg *coreconfig.Config, st store.Store, line http.Handler) http.Handler {
	t.Helper()
	if st == nil {
		st = store.NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	}
	srv, err := New(Options{Config: cfg, Store: st, LineWebhook: line})
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type failingStore struct {
	store.Store
}

func (failingStore) AppendTenant(context.Context, store.Tenant) error { return errors.New("disk full") }
func (failingStore) Ping(context.Context) error                       { return errors.New("down") }

func TestCreateTenant(t *testing.T) {
	st := store.NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	h := newTestServer(t, testConfig(), st, nil)

	rec := do(h, http.MethodPost, "/admin/tenant", adminToken, `{"ownerLineId":"Uowner","shop":"A"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	tenants, err := st.Tenants(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "Uowner", tenants[0].OwnerLineID)
}

func TestCreateTenantAuth(t *testing.T) {
	h := newTestServer(t, testConfig(), nil, nil)

	rec := do(h, http.MethodPost, "/admin/tenant", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/admin/tenant", "wrong", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/tenant", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Basic "+adminToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cfg := testConfig()
	cfg.Admin.Token = ""
	rec = do(newTestServer(t, cfg, nil, nil), http.MethodPost, "/admin/tenant", "anything", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateTenantRejectsNonObject(t *testing.T) {
	h := newTestServer(t, testConfig(), nil, nil)
	for _, body := range []string{`[]`, `"x"`, `{"a":`, ``} {
		rec := do(h, http.MethodPost, "/admin/tenant", adminToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"ok":false`)
	}
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestCreateTenantBodyErrors(t *testing.T) {
	h := newTestServer(t, testConfig(), nil, nil)

	rec := do(h, http.MethodPost, "/admin/tenant", adminToken, `{"pad":"`+strings.Repeat("x", maxTenantBody)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/tenant", brokenBody{})
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a failed read is not an oversize body")
}

func TestCreateTenantStoreFailure(t *testing.T) {
	h := newTestServer(t, testConfig(), failingStore{}, nil)
	rec := do(h, http.MethodPost, "/admin/tenant", adminToken, `{"ownerLineId":"U"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
	assert.NotContains(t, resp.Error, "disk full")
}

func TestListTenantsAndOrders(t *testing.T) {
	ctx := context.Background()
	st := store.NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	tenant, err := store.ParseTenant([]byte(`{"ownerLineId":"Uowner"}`))
	require.NoError(t, err)
	require.NoError(t, st.AppendTenant(ctx, tenant))
	for _, o := range []store.Order{
		{OrderID: "1", UserID: "U1", Stock: "SET", Number: "123", Amount: 50, Status: store.StatusPending, CreatedAt: "2024-05-01 10:30"},
		{OrderID: "2", UserID: "U2", Stock: "SET", Number: "007", Amount: 10, Status: store.StatusPending, CreatedAt: "2024-05-01 10:31"},
	} {
		require.NoError(t, st.AppendOrder(ctx, o))
	}
	h := newTestServer(t, testConfig(), st, nil)

	rec := do(h, http.MethodGet, "/admin/tenants?owner=Uowner", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"tenants":[{"ownerLineId":"Uowner"}]}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/admin/tenants?owner=nobody", adminToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var orders ordersResponse
	rec = do(h, http.MethodGet, "/admin/orders?user=U2", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders.Orders, 1)
	assert.Equal(t, "007", orders.Orders[0].Number)

	rec = do(h, http.MethodGet, "/admin/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	rec := do(newTestServer(t, testConfig(), nil, nil), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(newTestServer(t, testConfig(), failingStore{}, nil), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLineWebhookMounted(t *testing.T) {
	var hits int
	line := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})
	h := newTestServer(t, testConfig(), nil, line)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/webhook", "", `{}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/webhook", "", "").Code)
	assert.Equal(t, 1, hits)

	assert.Equal(t, http.StatusNotFound, do(newTestServer(t, testConfig(), nil, nil), http.MethodPost, "/webhook", "", `{}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig(), nil, nil)
	do(h, http.MethodGet, "/healthz", "", "")
	rec := do(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "betbot_http_requests_total")
}

func TestRateLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RequestsPerSecond = 0.001
	cfg.HTTP.Burst = 1
	h := newTestServer(t, cfg, nil, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/admin/orders", adminToken, "").Code)
	rec := do(h, http.MethodGet, "/admin/orders", adminToken, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiterSkipsWebhook(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RequestsPerSecond = 1
	cfg.HTTP.Burst = 1
	line := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := newTestServer(t, cfg, nil, line)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/webhook", "", `{"events":[]}`).Code)
	}
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/admin/tenants", adminToken, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/admin/tenants", adminToken, "").Code)
}

func TestRecoveryReturnsJSON(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"internal server error"}`, rec.Body.String())
}

func TestRequestIDPropagates(t *testing.T) {
	h := newTestServer(t, testConfig(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
}
