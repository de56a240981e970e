package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/store"
)

const maxTenantBody = 1 << 20

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type tenantsResponse struct {
	OK      bool           `json:"ok"`
	Tenants []store.Tenant `json:"tenants"`
}

type ordersResponse struct {
	OK     bool          `json:"ok"`
	Orders []store.Order `json:"orders"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

type adminHandlers struct {
	store store.Store
}

// createTenant appends the posted JSON object as a tenant record.
func (h *adminHandlers) createTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTenantBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	tenant, err := store.ParseTenant(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if err := h.store.AppendTenant(ctx, tenant); err != nil {
		logger.HTTP.ErrorContext(ctx, "tenant append failed",
			slog.String("event", "admin.tenant"),
			slog.String("status", "fail"),
			slog.String("err", logger.ErrAttr(err)),
		)
		writeError(w, http.StatusInternalServerError, "failed to store tenant")
		return
	}
	logger.HTTP.InfoContext(ctx, "tenant registered",
		slog.String("event", "admin.tenant"),
		slog.String("status", "ok"),
		slog.String("owner", tenant.OwnerLineID),
	)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *adminHandlers) listTenants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if owner := r.URL.Query().Get("owner"); owner != "" {
		t, err := h.store.TenantByOwner(ctx, owner)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "tenant not found")
		case err != nil:
			writeError(w, http.StatusInternalServerError, "failed to read tenants")
		default:
			writeJSON(w, http.StatusOK, tenantsResponse{OK: true, Tenants: []store.Tenant{t}})
		}
		return
	}
	tenants, err := h.store.Tenants(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read tenants")
		return
	}
	writeJSON(w, http.StatusOK, tenantsResponse{OK: true, Tenants: tenants})
}

// listOrders returns every order, optionally only those of ?user=.
func (h *adminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.Orders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read orders")
		return
	}
	if user := r.URL.Query().Get("user"); user != "" {
		filtered := make([]store.Order, 0, len(orders))
		for _, o := range orders {
			if o.UserID == user {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	writeJSON(w, http.StatusOK, ordersResponse{OK: true, Orders: orders})
}
