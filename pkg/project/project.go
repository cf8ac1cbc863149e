package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProjectNotFound  = errors.New("project: not found")
	ErrNoActiveProject  = errors.New("project: no active project selected")
)

// Meta is one project's identity record, kept in
// archon_home/projects/index.json.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"` // directory under archon_home, relative
	CreatedAt time.Time `json:"created_at"`
}

type indexFile struct {
	Projects []Meta `json:"projects"`
	ActiveID string `json:"active_id"`
}

// Store creates, lists, and selects projects under a single archon_home,
// each with its own isolated directory — the filesystem expression of
// project isolation (P4).
type Store struct {
	archonHome string
	io         *FileStateIO
	clock      func() time.Time
}

// NewStore opens (creating if absent) the project index rooted at archonHome.
func NewStore(archonHome string, clock func() time.Time) (*Store, error) {
	if clock == nil {
		clock = time.Now
	}
	io, err := NewFileStateIO(archonHome)
	if err != nil {
		return nil, err
	}
	return &Store{archonHome: archonHome, io: io, clock: clock}, nil
}

func (s *Store) loadIndex() (indexFile, error) {
	var idx indexFile
	if err := s.io.ReadJSON("projects/index.json", &idx); err != nil {
		return indexFile{}, err
	}
	return idx, nil
}

func (s *Store) saveIndex(idx indexFile) error {
	return s.io.WriteJSON("projects/index.json", idx)
}

// Create registers a new project, provisions its directory, and returns its
// metadata. The new project becomes the active one only when no project is
// active yet; otherwise the active project is left unchanged.
func (s *Store) Create(name string) (Meta, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return Meta{}, err
	}

	id := uuid.New().String()
	meta := Meta{ID: id, Name: name, Path: filepath.Join("projects", id), CreatedAt: s.clock()}

	projIO, err := NewFileStateIO(filepath.Join(s.archonHome, meta.Path))
	if err != nil {
		return Meta{}, err
	}
	if err := projIO.WriteJSON("metadata.json", meta); err != nil {
		return Meta{}, err
	}

	// Scaffold the default workspace rw fs-root alongside the state and log
	// directories.
	workspace := filepath.Join(s.archonHome, meta.Path, "workspace")
	if err := os.MkdirAll(workspace, 0700); err != nil {
		return Meta{}, fmt.Errorf("project: creating workspace for %q: %w", id, err)
	}
	defaultCfg := map[string]any{
		"fs_roots": []map[string]string{
			{"id": "workspace", "abs_path": workspace, "perm": "rw"},
		},
		"net_allowlist":    []string{},
		"exec_cwd_root_id": nil,
		"secrets_epoch":    0,
	}
	if err := projIO.WriteJSON("state/resource-config.json", defaultCfg); err != nil {
		return Meta{}, err
	}

	idx.Projects = append(idx.Projects, meta)
	if idx.ActiveID == "" {
		idx.ActiveID = id
	}
	if err := s.saveIndex(idx); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// List returns every registered project.
func (s *Store) List() ([]Meta, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Projects, nil
}

// GetActive returns the active project's metadata.
func (s *Store) GetActive() (Meta, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return Meta{}, err
	}
	if idx.ActiveID == "" {
		return Meta{}, ErrNoActiveProject
	}
	for _, m := range idx.Projects {
		if m.ID == idx.ActiveID {
			return m, nil
		}
	}
	return Meta{}, ErrProjectNotFound
}

// Select changes the active project, validating that id is registered.
func (s *Store) Select(id string) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	found := false
	for _, m := range idx.Projects {
		if m.ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrProjectNotFound
	}
	idx.ActiveID = id
	return s.saveIndex(idx)
}

// StateIOFor returns a StateIO scoped to one project's own directory —
// there is no path through this API to read or write another project's
// files (P4).
func (s *Store) StateIOFor(id string) (StateIO, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, m := range idx.Projects {
		if m.ID == id {
			return NewFileStateIO(filepath.Join(s.archonHome, m.Path))
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, id)
}
