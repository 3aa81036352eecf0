// Package analytics records page-view events. Views are published to a
// queue, consumed by a background recorder and persisted to a store; both
// sides fall back to in-memory implementations when Redis or Postgres are
// not configured.
package analytics

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ViewEvent is one page view.
type ViewEvent struct {
	Slug       string    `json:"slug"`
	Path       string    `json:"path"`
	Referrer   string    `json:"referrer,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Store persists view events.
type Store interface {
	RecordView(ctx context.Context, event ViewEvent) error
	ViewCount(ctx context.Context, slug string) (int64, error)
	Close(ctx context.Context) error
}

// MemoryStore counts views in memory, for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (s *MemoryStore) RecordView(_ context.Context, event ViewEvent) error {
	slug := strings.TrimSpace(event.Slug)
	if slug == "" {
		return nil
	}
	s.mu.Lock()
	s.counts[slug]++
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ViewCount(_ context.Context, slug string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[slug], nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
