package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"careerxp/adapters/memory"
	"careerxp/core"
)

// Store persists the whole state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory copy serves every read
	mem *memory.Store
}

func New(path string) (*Store, error) {
	s := &Store{path: path, mem: memory.New()}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	s.mem.Restore(snap)
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.mem.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	return s.mem.GetProfile(ctx, user)
}

func (s *Store) HasGrantForRef(ctx context.Context, user core.UserID, action core.Action, refID string) (bool, error) {
	return s.mem.HasGrantForRef(ctx, user, action, refID)
}

func (s *Store) CountGrantsSince(ctx context.Context, user core.UserID, action core.Action, since time.Time) (int, error) {
	return s.mem.CountGrantsSince(ctx, user, action, since)
}

func (s *Store) LastGrantAt(ctx context.Context, user core.UserID, action core.Action) (time.Time, bool, error) {
	return s.mem.LastGrantAt(ctx, user, action)
}

// ApplyGrant writes through to disk. A failed write rolls the in-memory state back.
func (s *Store) ApplyGrant(ctx context.Context, entry core.XPLogEntry) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.mem.Snapshot()
	p, err := s.mem.ApplyGrant(ctx, entry)
	if err != nil {
		return core.Profile{}, err
	}
	if err := s.persist(); err != nil {
		s.mem.Restore(before)
		return core.Profile{}, fmt.Errorf("failed to persist grant: %w", err)
	}
	return p, nil
}

func (s *Store) ListGrants(ctx context.Context, user core.UserID, limit int) ([]core.XPLogEntry, error) {
	return s.mem.ListGrants(ctx, user, limit)
}

func (s *Store) TopProfiles(ctx context.Context, limit int) ([]core.Profile, error) {
	return s.mem.TopProfiles(ctx, limit)
}
