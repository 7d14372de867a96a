package memory

import (
	"context"
	"sync"
	"time"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// ResolutionStore is an in-memory domain.ResolutionStore.
type ResolutionStore struct {
	mu          sync.RWMutex
	resolutions []domain.Resolution
}

// NewResolutionStore creates a ResolutionStore.
func NewResolutionStore() *ResolutionStore {
	return &ResolutionStore{}
}

func (s *ResolutionStore) Insert(ctx context.Context, r domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions = append(s.resolutions, r)
	return nil
}

func (s *ResolutionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Resolution
	for _, r := range s.resolutions {
		if r.MarketID == marketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ResolutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Resolution
	for _, r := range s.resolutions {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewAuditStore creates an AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}
