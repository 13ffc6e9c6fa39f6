// Package memory implements audit.Store in-process, for tests and local
// development without Postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ordergate/brokerd/internal/audit"
	"github.com/ordergate/brokerd/pkg/errors"
)

// Store is an in-memory audit.Store.
type Store struct {
	mu       sync.Mutex
	byID     map[string]audit.Row
	byOrder  map[string]string // upstream order ID -> row ID
}

func New() *Store {
	return &Store{
		byID:    make(map[string]audit.Row),
		byOrder: make(map[string]string),
	}
}

func (s *Store) Insert(ctx context.Context, row audit.Row) (audit.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	s.byID[row.ID] = row
	if row.UpstreamOrderID != "" {
		s.byOrder[row.UpstreamOrderID] = row.ID
	}
	return row, nil
}

func (s *Store) UpdateByID(ctx context.Context, id string, fn func(*audit.Row)) (audit.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return audit.Row{}, errors.NotFound("audit row not found: "+id, nil)
	}
	fn(&row)
	s.byID[id] = row
	if row.UpstreamOrderID != "" {
		s.byOrder[row.UpstreamOrderID] = id
	}
	return row, nil
}

func (s *Store) Update(ctx context.Context, upstreamOrderID string, fn func(*audit.Row)) (audit.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrder[upstreamOrderID]
	if !ok {
		return audit.Row{}, errors.NotFound("audit row not found for upstream order "+upstreamOrderID, nil)
	}
	row := s.byID[id]
	fn(&row)
	s.byID[id] = row
	if row.UpstreamOrderID != "" {
		s.byOrder[row.UpstreamOrderID] = id
	}
	return row, nil
}

func (s *Store) FindByUpstreamOrderID(ctx context.Context, upstreamOrderID string) (audit.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrder[upstreamOrderID]
	if !ok {
		return audit.Row{}, errors.NotFound("audit row not found for upstream order "+upstreamOrderID, nil)
	}
	return s.byID[id], nil
}

func (s *Store) Close() error {
	return nil
}
