// Package filestore keeps the state document in a single JSON file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pscheid92/livewatch/internal/domain"
)

type Store struct {
	mu       sync.Mutex
	path     string
	defaults domain.State
}

// New returns a store for path. defaults is written on first Load when the file does not exist.
func New(path string, defaults domain.State) *Store {
	return &Store{path: path, defaults: defaults.Clone()}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.InfoContext(ctx, "State file not found, writing defaults", "path", s.path)
		state := s.defaults.Clone()
		if err := s.write(state); err != nil {
			return domain.State{}, err
		}
		return state, nil
	}
	if err != nil {
		return domain.State{}, fmt.Errorf("%w: read state file: %w", domain.ErrPersistence, err)
	}

	state, err := Decode(data)
	if err != nil {
		return domain.State{}, fmt.Errorf("%w: %s: %w", domain.ErrPersistence, s.path, err)
	}
	return state, nil
}

func (s *Store) Save(ctx context.Context, state domain.State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(state)
}

// Decode parses a state document and fills in empty collections.
func Decode(data []byte) (domain.State, error) {
	var state domain.State
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.State{}, fmt.Errorf("decode state: %w", err)
	}
	if state.Channels == nil {
		state.Channels = map[string]domain.ChannelRecord{}
	}
	return state, nil
}

// write replaces the file atomically: encode into a temp file in the same
// directory, fsync it, then rename over the target.
func (s *Store) write(state domain.State) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create state dir: %w", domain.ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", domain.ErrPersistence, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("%w: encode state: %w", domain.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp file: %w", domain.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", domain.ErrPersistence, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: replace state file: %w", domain.ErrPersistence, err)
	}
	return nil
}
