package taskstore

import (
	"context"
	"sync"
)

// SerializingStore wraps a Store whose backend cannot itself guarantee
// atomic claims (e.g. a hand-rolled plugin backend) behind a process
// mutex, trading cross-process concurrency for correctness within this
// engine instance. See SPEC_FULL.md's resolution of the claim-atomicity
// open question: backends that can't prove atomicity get wrapped here
// instead of being trusted directly.
type SerializingStore struct {
	mu    sync.Mutex
	inner Store
}

// NewSerializingStore wraps inner.
func NewSerializingStore(inner Store) *SerializingStore {
	return &SerializingStore{inner: inner}
}

func (s *SerializingStore) Claim(ctx context.Context, filter Filter) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Claim(ctx, filter)
}

func (s *SerializingStore) CountPending(ctx context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CountPending(ctx, filter)
}

func (s *SerializingStore) MarkCompleted(ctx context.Context, id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.MarkCompleted(ctx, id, note)
}

func (s *SerializingStore) MarkFailed(ctx context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.MarkFailed(ctx, id, cause)
}

func (s *SerializingStore) ResetToPending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ResetToPending(ctx, id)
}

func (s *SerializingStore) MarkQuarantined(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.MarkQuarantined(ctx, id, reason)
}

func (s *SerializingStore) ResetAllInProgress(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ResetAllInProgress(ctx)
}
