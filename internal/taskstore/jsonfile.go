package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// jsonDoc is the on-disk schema for JSONFileStore. It is intentionally
// flat so a human can edit it by hand between runs.
type jsonDoc struct {
	Version int     `json:"version"`
	Tasks   []*Task `json:"tasks"`
}

const jsonDocVersion = 1

// JSONFileStore persists tasks to a single JSON file, rewriting it
// atomically (write-to-temp, then rename) on every mutation so a crash
// mid-write never corrupts the file the next run reads.
type JSONFileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

// NewJSONFileStore loads path if it exists, or starts empty.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	s := &JSONFileStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mem = NewMemoryStore(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("taskstore: read %s: %w", s.path, err)
	}
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("taskstore: parse %s: %w", s.path, err)
	}
	s.mem = NewMemoryStore(doc.Tasks)
	return nil
}

// persist rewrites the backing file with the current in-memory state.
// Caller must hold s.mu.
func (s *JSONFileStore) persist() error {
	doc := jsonDoc{Version: jsonDocVersion, Tasks: s.mem.Snapshot()}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("taskstore: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".taskstore-*.tmp")
	if err != nil {
		return fmt.Errorf("taskstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("taskstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("taskstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("taskstore: rename into place: %w", err)
	}
	return nil
}

func (s *JSONFileStore) Claim(ctx context.Context, filter Filter) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mem.Claim(ctx, filter)
	if err != nil || t == nil {
		return t, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *JSONFileStore) CountPending(ctx context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.CountPending(ctx, filter)
}

func (s *JSONFileStore) MarkCompleted(ctx context.Context, id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.MarkCompleted(ctx, id, note); err != nil {
		return err
	}
	return s.persist()
}

func (s *JSONFileStore) MarkFailed(ctx context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.MarkFailed(ctx, id, cause); err != nil {
		return err
	}
	return s.persist()
}

func (s *JSONFileStore) ResetToPending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.ResetToPending(ctx, id); err != nil {
		return err
	}
	return s.persist()
}

func (s *JSONFileStore) MarkQuarantined(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.MarkQuarantined(ctx, id, reason); err != nil {
		return err
	}
	return s.persist()
}

func (s *JSONFileStore) ResetAllInProgress(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.ResetAllInProgress(ctx); err != nil {
		return err
	}
	return s.persist()
}
