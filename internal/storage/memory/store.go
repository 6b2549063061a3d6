// Package memory provides an in-memory InteractionStore for tests and
// single-process deployments that do not need persistence.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage"
)

// Store is an in-memory implementation of InteractionStore.
type Store struct {
	mu      sync.RWMutex
	records []*storage.Interaction
	byID    map[string]*storage.Interaction
}

var _ storage.InteractionStore = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{byID: make(map[string]*storage.Interaction)}
}

func (s *Store) RecordInteraction(ctx context.Context, rec *storage.Interaction) error {
	if rec.ID == "" {
		return fmt.Errorf("interaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("interaction %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	stored := *rec
	s.records = append(s.records, &stored)
	s.byID[rec.ID] = &stored
	return nil
}

func (s *Store) GetInteraction(ctx context.Context, id string) (*storage.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.byID[id]
	if !exists {
		return nil, fmt.Errorf("interaction %s not found", id)
	}
	out := *rec
	return &out, nil
}

func (s *Store) ListInteractions(ctx context.Context, opts storage.ListOptions) ([]*storage.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*storage.Interaction
	// Newest first.
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if opts.Protocol != "" && rec.Protocol != opts.Protocol {
			continue
		}
		matched = append(matched, rec)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	out := make([]*storage.Interaction, len(matched))
	for i, rec := range matched {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
