package registry

import (
	"errors"
	"sync"

	"github.com/CustodyZero/archon/pkg/snapshot"
)

var ErrResourceConfigNotFound = errors.New("registry: resource config not found")

const resourceConfigFileName = "state/resource-config.json"

// ResourceConfigRegistry holds the single ResourceConfig value per project,
// with atomic whole-value replacement and a monotonic secrets epoch.
type ResourceConfigRegistry struct {
	mu      sync.RWMutex
	cfg     map[string]snapshot.ResourceConfig
	resolve StateIOResolver
}

// NewResourceConfigRegistry builds a ResourceConfigRegistry. resolve may be
// nil for a purely in-memory store.
func NewResourceConfigRegistry(resolve StateIOResolver) *ResourceConfigRegistry {
	return &ResourceConfigRegistry{cfg: make(map[string]snapshot.ResourceConfig), resolve: resolve}
}

// Load replaces the in-memory config for a project from its persisted file.
func (r *ResourceConfigRegistry) Load(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	var cfg snapshot.ResourceConfig
	if err := io.ReadJSON(resourceConfigFileName, &cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg[projectID] = cfg
	return nil
}

func (r *ResourceConfigRegistry) persist(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	return io.WriteJSON(resourceConfigFileName, r.cfg[projectID])
}

// Set replaces the resource config for a project wholesale.
func (r *ResourceConfigRegistry) Set(projectID string, cfg snapshot.ResourceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg[projectID] = cfg
	return r.persist(projectID)
}

// SetFSRoots replaces only the fs_roots array.
func (r *ResourceConfigRegistry) SetFSRoots(projectID string, roots []snapshot.FSRoot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg[projectID]
	cfg.FSRoots = roots
	r.cfg[projectID] = cfg
	return r.persist(projectID)
}

// SetNetAllowlist replaces only the net_allowlist array.
func (r *ResourceConfigRegistry) SetNetAllowlist(projectID string, allowlist []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg[projectID]
	cfg.NetAllowlist = allowlist
	r.cfg[projectID] = cfg
	return r.persist(projectID)
}

// SetExecCwdRootID replaces only the exec cwd root pointer (nil clears it).
func (r *ResourceConfigRegistry) SetExecCwdRootID(projectID string, rootID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg[projectID]
	cfg.ExecCwdRootID = rootID
	r.cfg[projectID] = cfg
	return r.persist(projectID)
}

// IncrementSecretsEpoch bumps the monotonic secrets epoch and returns the
// new value.
func (r *ResourceConfigRegistry) IncrementSecretsEpoch(projectID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg[projectID]
	cfg.SecretsEpoch++
	r.cfg[projectID] = cfg
	return cfg.SecretsEpoch, r.persist(projectID)
}

// Get returns the current resource config for a project, or
// ErrResourceConfigNotFound if the project has never had one set.
func (r *ResourceConfigRegistry) Get(projectID string) (snapshot.ResourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.cfg[projectID]
	if !ok {
		return snapshot.ResourceConfig{}, ErrResourceConfigNotFound
	}
	return cfg, nil
}
