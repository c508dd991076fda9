package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileExt = ".yaml"

// FileRepository keeps one YAML file per profile, named by Key()
type FileRepository struct {
	dir string
	mu  sync.Mutex
}

// NewFileRepository creates dir if needed
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

// Dir returns the directory holding the profiles
func (r *FileRepository) Dir() string {
	return r.dir
}

type fileEntry struct {
	path    string
	profile *Profile
}

// scan reads every parseable profile file. Unreadable files are skipped so
// one bad file does not hide the rest.
func (r *FileRepository) scan() ([]fileEntry, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}

	var out []fileEntry
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), fileExt) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		p, err := ReadFile(path)
		if err != nil {
			continue
		}
		out = append(out, fileEntry{path: path, profile: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// List returns every valid profile in the directory. When two files carry
// the same name the one sorting last wins.
func (r *FileRepository) List(ctx context.Context) ([]*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.scan()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Profile)
	for _, e := range entries {
		byName[e.profile.Name] = e.profile
	}
	out := make([]*Profile, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save writes p and removes stale files for the same name
func (r *FileRepository) Save(ctx context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, p.Key()+fileExt)
	if err := WriteFile(path, p); err != nil {
		return err
	}

	entries, err := r.scan()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.profile.Name == p.Name && e.path != path {
			if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// Delete removes every file holding the named profile
func (r *FileRepository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.scan()
	if err != nil {
		return err
	}
	found := false
	for _, e := range entries {
		if e.profile.Name != name {
			continue
		}
		found = true
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
