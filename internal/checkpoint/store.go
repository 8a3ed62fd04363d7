// Package checkpoint persists the set of currently in-flight tasks so
// an interrupted run can resume where it left off.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is one namespace's checkpoint: every task currently claimed by
// a worker at the moment the checkpoint was written.
type State struct {
	Namespace       string    `json:"namespace"`
	SavedAt         time.Time `json:"saved_at"`
	InterruptedTasks []string `json:"interrupted_tasks"`
}

// Store writes namespaced checkpoint files under root, named
// "parallel-state.json" for the default namespace and
// "parallel-state-<namespace>.json" otherwise.
//
// Writes are best-effort: a failure is logged and swallowed so a
// worker is never blocked by checkpoint I/O.
type Store struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore builds a Store rooted at root (typically "<project>/.loopwork").
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

func (s *Store) pathFor(namespace string) string {
	if namespace == "" || namespace == "default" {
		return filepath.Join(s.root, "parallel-state.json")
	}
	return filepath.Join(s.root, fmt.Sprintf("parallel-state-%s.json", namespace))
}

// Save writes the checkpoint for namespace. Errors are logged, not
// returned, so callers can fire-and-forget this from a hot path.
func (s *Store) Save(namespace string, tasks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{Namespace: namespace, SavedAt: time.Now(), InterruptedTasks: tasks}
	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		s.logger.Error("checkpoint: marshal failed", "namespace", namespace, "error", err)
		return
	}

	path := s.pathFor(namespace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Error("checkpoint: mkdir failed", "path", path, "error", err)
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*.tmp")
	if err != nil {
		s.logger.Error("checkpoint: create temp failed", "path", path, "error", err)
		return
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.logger.Error("checkpoint: write temp failed", "path", path, "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		s.logger.Error("checkpoint: close temp failed", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		s.logger.Error("checkpoint: rename failed", "path", path, "error", err)
	}
}

// Load reads namespace's checkpoint, returning (nil, nil) if none
// exists yet.
func (s *Store) Load(namespace string) (*State, error) {
	path := s.pathFor(namespace)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", path, err)
	}
	return &state, nil
}
