package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"careerxp/core"
)

type refKey struct {
	user   core.UserID
	action core.Action
	ref    string
}

// Store is a concurrent in-memory Storage implementation.
// A single lock covers profiles, the log and the ref index, so ApplyGrant is atomic.
type Store struct {
	mu       sync.RWMutex
	profiles map[core.UserID]core.Profile
	logs     map[core.UserID][]core.XPLogEntry
	refs     map[refKey]struct{}
}

func New() *Store {
	return &Store{
		profiles: map[core.UserID]core.Profile{},
		logs:     map[core.UserID][]core.XPLogEntry{},
		refs:     map[refKey]struct{}{},
	}
}

// Snapshot is a serializable copy of the store contents.
type Snapshot struct {
	Profiles []core.Profile    `json:"profiles"`
	Logs     []core.XPLogEntry `json:"logs"`
}

// NewFromSnapshot rebuilds a store, including the ref index.
func NewFromSnapshot(snap Snapshot) *Store {
	s := New()
	s.restoreLocked(snap)
	return s
}

// Snapshot copies the current contents. Logs are ordered oldest first.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Profiles: make([]core.Profile, 0, len(s.profiles))}
	for _, p := range s.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}
	sort.Slice(snap.Profiles, func(i, j int) bool { return snap.Profiles[i].UserID < snap.Profiles[j].UserID })
	for _, entries := range s.logs {
		snap.Logs = append(snap.Logs, entries...)
	}
	sort.SliceStable(snap.Logs, func(i, j int) bool { return snap.Logs[i].CreatedAt.Before(snap.Logs[j].CreatedAt) })
	return snap
}

// Restore replaces the contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(snap)
}

func (s *Store) restoreLocked(snap Snapshot) {
	s.profiles = make(map[core.UserID]core.Profile, len(snap.Profiles))
	s.logs = map[core.UserID][]core.XPLogEntry{}
	s.refs = map[refKey]struct{}{}
	for _, p := range snap.Profiles {
		s.profiles[p.UserID] = p
	}
	for _, e := range snap.Logs {
		s.logs[e.UserID] = append(s.logs[e.UserID], e)
		if e.HasRef() {
			s.refs[refKey{e.UserID, e.Action, e.RefID}] = struct{}{}
		}
	}
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[user]; ok {
		return p, nil
	}
	return core.EmptyProfile(user), nil
}

func (s *Store) HasGrantForRef(_ context.Context, user core.UserID, action core.Action, refID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.refs[refKey{user, action, refID}]
	return ok, nil
}

func (s *Store) CountGrantsSince(_ context.Context, user core.UserID, action core.Action, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.logs[user] {
		if e.Action == action && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) LastGrantAt(_ context.Context, user core.UserID, action core.Action) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	found := false
	for _, e := range s.logs[user] {
		if e.Action == action && (!found || e.CreatedAt.After(last)) {
			last = e.CreatedAt
			found = true
		}
	}
	return last, found, nil
}

func (s *Store) ApplyGrant(_ context.Context, entry core.XPLogEntry) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey{entry.UserID, entry.Action, entry.RefID}
	if entry.HasRef() {
		if _, dup := s.refs[key]; dup {
			return core.Profile{}, core.ErrDuplicateGrant
		}
	}
	current := s.profiles[entry.UserID].XP
	next, err := core.AddSafe(current, entry.XP)
	if err != nil {
		return core.Profile{}, err
	}
	p := core.Profile{UserID: entry.UserID, XP: next, Level: core.Level(next), UpdatedAt: entry.CreatedAt}
	s.profiles[entry.UserID] = p
	s.logs[entry.UserID] = append(s.logs[entry.UserID], entry)
	if entry.HasRef() {
		s.refs[key] = struct{}{}
	}
	return p, nil
}

// ListGrants returns up to limit entries, newest first.
func (s *Store) ListGrants(_ context.Context, user core.UserID, limit int) ([]core.XPLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	entries := s.logs[user]
	out := make([]core.XPLogEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// TopProfiles returns the highest-XP profiles, ties broken by user id.
func (s *Store) TopProfiles(_ context.Context, limit int) ([]core.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	out := make([]core.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
