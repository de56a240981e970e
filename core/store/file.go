package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
)

const fileBackend = "file"

// FileStore keeps the whole Document in memory and mirrors it to one JSON file.
// A single lock serialises writers; each append rewrites the file atomically
// and swaps the in-memory document only after the rename succeeded.
type FileStore struct {
	path string

	mu  sync.RWMutex
	doc Document

	// write persists data at path. Replaced in tests to simulate disk failures.
	write func(path string, data []byte) error
}

// NewFileStore returns a store backed by the JSON document at path. Call Load before use.
func NewFileStore(path string) *FileStore {
	s := &FileStore{path: path, write: writeFileAtomic}
	s.doc.normalize()
	return s
}

// Load replaces the in-memory document with the file contents.
// A missing or empty file yields an empty document; malformed JSON is an error
// so a damaged file is never silently overwritten by the next append.
func (s *FileStore) Load(ctx context.Context) error {
	start := time.Now()
	data, err := os.ReadFile(s.path)
	var doc Document
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Store.InfoContext(ctx, "store file absent, starting empty",
			slog.String("event", "store.load"),
			slog.String("backend", fileBackend),
			slog.String("path", s.path),
		)
	case err != nil:
		return fmt.Errorf("store: read %s: %w", s.path, err)
	case len(data) == 0:
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("store: decode %s: %w", s.path, err)
		}
	}
	doc.normalize()

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	logger.Store.InfoContext(ctx, "store loaded",
		slog.String("event", "store.load"),
		slog.String("backend", fileBackend),
		slog.Int("count", len(doc.Orders)),
		slog.Int("tenants", len(doc.Tenants)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// AppendOrder validates o and persists it after all existing orders.
func (s *FileStore) AppendOrder(ctx context.Context, o Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return s.commit(ctx, "order", func(d Document) Document {
		d.Orders = append(slices.Clip(d.Orders), o)
		return d
	})
}

// AppendTenant persists t after all existing tenants.
func (s *FileStore) AppendTenant(ctx context.Context, t Tenant) error {
	if t.Attrs == nil {
		t.Attrs = map[string]json.RawMessage{}
	}
	return s.commit(ctx, "tenant", func(d Document) Document {
		d.Tenants = append(slices.Clip(d.Tenants), t)
		return d
	})
}

// commit builds the next document, flushes it and only then makes it visible.
func (s *FileStore) commit(ctx context.Context, kind string, next func(Document) Document) (err error) {
	start := time.Now()
	defer func() { metrics.StoreWrite(fileBackend, kind, err, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := next(s.doc)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	if err := s.write(s.path, data); err != nil {
		logger.Store.ErrorContext(ctx, "store flush failed",
			slog.String("event", "store.flush"),
			slog.String("backend", fileBackend),
			slog.String("kind", kind),
			slog.String("path", s.path),
			slog.String("err", logger.ErrAttr(err)),
		)
		return fmt.Errorf("store: flush %s: %w", s.path, err)
	}
	s.doc = doc

	logger.Store.DebugContext(ctx, "store flushed",
		slog.String("event", "store.flush"),
		slog.String("backend", fileBackend),
		slog.String("kind", kind),
		slog.Int("count", len(doc.Orders)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Orders returns a copy of all orders in insertion order.
func (s *FileStore) Orders(context.Context) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Orders), nil
}

// Tenants returns a copy of all tenants in insertion order.
func (s *FileStore) Tenants(context.Context) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Tenants), nil
}

// TenantByOwner returns the first tenant whose ownerLineId equals ownerID.
func (s *FileStore) TenantByOwner(_ context.Context, ownerID string) (Tenant, error) {
	if ownerID == "" {
		return Tenant{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.doc.Tenants {
		if t.OwnerLineID == ownerID {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

// Ping checks that the directory holding the document is reachable.
func (s *FileStore) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

// Close is a no-op; every append is already on disk.
func (s *FileStore) Close() error { return nil }

// writeFileAtomic writes data to a temp file next to path, syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
