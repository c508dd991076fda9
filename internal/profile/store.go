package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"jordanella.com/cost-ruler/internal/cv"
)

// Repository persists profiles by name
type Repository interface {
	List(ctx context.Context) ([]*Profile, error)
	Save(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, name string) error
}

// Store holds the named profiles and the active one. The active profile is
// swapped atomically, so readers never see a partially built profile.
type Store struct {
	repo Repository

	mu       sync.RWMutex
	profiles map[string]*Profile
	hooks    []func(*Profile)

	active atomic.Pointer[Profile]
}

// NewStore creates a store backed by repo. A nil repo keeps profiles in
// memory only.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:     repo,
		profiles: make(map[string]*Profile),
	}
}

// OnActivate registers fn to run after the active profile changes. fn gets
// nil when the active profile is cleared.
func (s *Store) OnActivate(fn func(*Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Load replaces the in-memory set with the repository contents. The active
// profile is kept by name, or cleared if it disappeared.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	list, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	s.mu.Lock()
	s.profiles = make(map[string]*Profile, len(list))
	for _, p := range list {
		s.profiles[p.Name] = p
	}
	var next *Profile
	changed := false
	if cur := s.active.Load(); cur != nil {
		next = s.profiles[cur.Name]
		if next != nil && next.Equal(cur) {
			// Unchanged content keeps the active pointer
			s.profiles[cur.Name] = cur
			next = cur
		}
		changed = next != cur
	}
	s.mu.Unlock()

	if changed {
		s.setActive(next)
	}
	return nil
}

// Commit validates and stores p, replacing any profile with the same name.
// If the replaced profile was active, p becomes active.
func (s *Store) Commit(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, p); err != nil {
			return fmt.Errorf("failed to save profile %s: %w", p.Name, err)
		}
	}

	s.mu.Lock()
	s.profiles[p.Name] = p
	s.mu.Unlock()

	if cur := s.active.Load(); cur != nil && cur.Name == p.Name {
		s.setActive(p)
	}
	return nil
}

// CommitAndActivate stores p and makes it the active profile
func (s *Store) CommitAndActivate(ctx context.Context, p *Profile) error {
	if err := s.Commit(ctx, p); err != nil {
		return err
	}
	s.setActive(p)
	return nil
}

// Activate makes the named profile active
func (s *Store) Activate(name string) (*Profile, error) {
	p, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	s.setActive(p)
	return p, nil
}

// Deactivate clears the active profile
func (s *Store) Deactivate() {
	s.setActive(nil)
}

func (s *Store) setActive(p *Profile) {
	s.active.Store(p)

	s.mu.RLock()
	hooks := append(([]func(*Profile))(nil), s.hooks...)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(p)
	}
}

// Active returns the active profile or nil
func (s *Store) Active() *Profile {
	return s.active.Load()
}

// Get returns the named profile
func (s *Store) Get(name string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// List returns all profiles ordered by name
func (s *Store) List() []*Profile {
	s.mu.RLock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForResolution returns the profiles calibrated at res
func (s *Store) ForResolution(res cv.Resolution) []*Profile {
	var out []*Profile
	for _, p := range s.List() {
		if p.Resolution == res {
			out = append(out, p)
		}
	}
	return out
}

// Rename moves a profile to a new name. An active profile stays active
// under its new name.
func (s *Store) Rename(ctx context.Context, oldName, newName string) (*Profile, error) {
	if newName == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidProfile)
	}
	old, err := s.Get(oldName)
	if err != nil {
		return nil, err
	}
	if oldName == newName {
		return old, nil
	}
	if _, err := s.Get(newName); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, newName)
	}

	renamed := old.WithName(newName)
	if s.repo != nil {
		if err := s.repo.Save(ctx, renamed); err != nil {
			return nil, fmt.Errorf("failed to save profile %s: %w", newName, err)
		}
		if err := s.repo.Delete(ctx, oldName); err != nil {
			return nil, fmt.Errorf("failed to remove profile %s: %w", oldName, err)
		}
	}

	s.mu.Lock()
	delete(s.profiles, oldName)
	s.profiles[newName] = renamed
	s.mu.Unlock()

	if cur := s.active.Load(); cur == old {
		s.setActive(renamed)
	}
	return renamed, nil
}

// Delete removes a profile. Deleting the active profile clears it.
func (s *Store) Delete(ctx context.Context, name string) error {
	p, err := s.Get(name)
	if err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to remove profile %s: %w", name, err)
		}
	}

	s.mu.Lock()
	delete(s.profiles, name)
	s.mu.Unlock()

	if s.active.Load() == p {
		s.setActive(nil)
	}
	return nil
}
