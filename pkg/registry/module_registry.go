// Package registry implements the five stores behind the Module,
// Capability, Restriction, Resource Config and Acknowledgment registries of
// spec.md §4.7, adapted from the teacher's pkg/registry/registry.go
// (InMemoryRegistry: an RWMutex-guarded map plus crc32-bucketed canary
// rollout). Each store here is scoped by project_id rather than by tenant,
// and canary rollout is repurposed from a stable/canary bundle split into a
// staged module-version rollout. Stores persist through a project-scoped
// StateIO resolver when one is wired; a nil resolver keeps them in memory.
package registry

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"github.com/CustodyZero/archon/pkg/manifest"
)

var (
	ErrModuleNotFound     = errors.New("registry: module not found")
	ErrDuplicateModule    = errors.New("registry: module already registered")
	ErrConfirmationNeeded = errors.New("registry: mutation requires confirmed=true")
)

// ModuleStatus is a module's lifecycle state within one project.
type ModuleStatus string

const (
	StatusLoaded   ModuleStatus = "loaded"
	StatusEnabled  ModuleStatus = "enabled"
	StatusDisabled ModuleStatus = "disabled"
	StatusRejected ModuleStatus = "rejected"
)

const enabledModulesFileName = "state/enabled-modules.json"

type moduleState struct {
	stable       manifest.Module
	status       ModuleStatus
	canary       *manifest.Module
	canaryMillis int // 0-10000, precision 0.01%
}

// ModuleRegistry is the project-scoped source of truth for installed
// Capability Contribution Modules, their enablement status, and optional
// staged-rollout upgrades.
type ModuleRegistry struct {
	mu      sync.RWMutex
	byProj  map[string]map[string]*moduleState // project_id -> module_id -> state
	resolve StateIOResolver
}

// NewModuleRegistry builds a ModuleRegistry. resolve may be nil for a
// purely in-memory store (tests).
func NewModuleRegistry(resolve StateIOResolver) *ModuleRegistry {
	return &ModuleRegistry{byProj: make(map[string]map[string]*moduleState), resolve: resolve}
}

func (r *ModuleRegistry) projectMap(projectID string) map[string]*moduleState {
	m, ok := r.byProj[projectID]
	if !ok {
		m = make(map[string]*moduleState)
		r.byProj[projectID] = m
	}
	return m
}

// persistEnabled writes the sorted enabled-module-id list for a project.
func (r *ModuleRegistry) persistEnabled(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	var ids []string
	for id, s := range r.byProj[projectID] {
		if s.status == StatusEnabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return io.WriteJSON(enabledModulesFileName, ids)
}

// Register installs mod as Disabled for projectID — never Enabled: a fresh
// registration contributes nothing to the capability surface until an
// operator-approved proposal enables it (I1). A structurally invalid
// manifest is recorded as Rejected; re-registering an existing module id is
// refused outright.
func (r *ModuleRegistry) Register(projectID string, mod manifest.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mods := r.projectMap(projectID)
	if _, ok := mods[mod.ModuleID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateModule, mod.ModuleID)
	}
	if err := mod.Validate(); err != nil {
		mods[mod.ModuleID] = &moduleState{stable: mod, status: StatusRejected}
		return err
	}
	mods[mod.ModuleID] = &moduleState{stable: mod, status: StatusDisabled}
	return nil
}

// Unregister removes a module entirely from a project.
func (r *ModuleRegistry) Unregister(projectID, moduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mods := r.projectMap(projectID)
	if _, ok := mods[moduleID]; !ok {
		return ErrModuleNotFound
	}
	delete(mods, moduleID)
	return r.persistEnabled(projectID)
}

// Enable transitions a module to Enabled. confirmed must be true — there is
// no silent path to growing the enabled-module set.
func (r *ModuleRegistry) Enable(projectID, moduleID string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationNeeded
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.projectMap(projectID)[moduleID]
	if !ok {
		return ErrModuleNotFound
	}
	if state.status == StatusRejected {
		return fmt.Errorf("registry: module %q was rejected at load and cannot be enabled", moduleID)
	}
	state.status = StatusEnabled
	return r.persistEnabled(projectID)
}

// Disable transitions a module to Disabled. confirmed must be true.
func (r *ModuleRegistry) Disable(projectID, moduleID string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationNeeded
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.projectMap(projectID)[moduleID]
	if !ok {
		return ErrModuleNotFound
	}
	state.status = StatusDisabled
	return r.persistEnabled(projectID)
}

// Status returns a module's lifecycle state.
func (r *ModuleRegistry) Status(projectID, moduleID string) (ModuleStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.byProj[projectID][moduleID]
	if !ok {
		return "", ErrModuleNotFound
	}
	return state.status, nil
}

// SetRollout stages canaryMod as a percentage-bucketed upgrade ahead of a
// project's agents, keyed deterministically on agent_id.
func (r *ModuleRegistry) SetRollout(projectID string, canaryMod manifest.Module, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return errors.New("registry: percentage must be 0-100")
	}
	if err := canaryMod.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.projectMap(projectID)[canaryMod.ModuleID]
	if !ok {
		return ErrModuleNotFound
	}
	mod := canaryMod
	state.canary = &mod
	state.canaryMillis = percentage * 100
	return nil
}

// Get returns the stable module version for a project.
func (r *ModuleRegistry) Get(projectID, moduleID string) (manifest.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.byProj[projectID][moduleID]
	if !ok {
		return manifest.Module{}, ErrModuleNotFound
	}
	return state.stable, nil
}

// GetForAgent resolves the canary-or-stable module version for a given
// agent, using the same crc32-bucketing strategy the teacher's registry
// uses for per-user canary assignment.
func (r *ModuleRegistry) GetForAgent(projectID, moduleID, agentID string) (manifest.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.byProj[projectID][moduleID]
	if !ok {
		return manifest.Module{}, ErrModuleNotFound
	}
	if state.canary != nil && state.canaryMillis > 0 {
		hash := crc32.ChecksumIEEE([]byte(strings.ToLower(agentID)))
		slot := int(hash % 10000)
		if slot < state.canaryMillis {
			return *state.canary, nil
		}
	}
	return state.stable, nil
}

// ListEnabled returns every Enabled module for a project (stable versions),
// the set that feeds into the Rule Snapshot's ccm_enabled field.
func (r *ModuleRegistry) ListEnabled(projectID string) []manifest.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mods := r.byProj[projectID]
	out := make([]manifest.Module, 0, len(mods))
	for _, s := range mods {
		if s.status == StatusEnabled {
			out = append(out, s.stable)
		}
	}
	return out
}

// List returns every registered module for a project regardless of status.
func (r *ModuleRegistry) List(projectID string) []manifest.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mods := r.byProj[projectID]
	out := make([]manifest.Module, 0, len(mods))
	for _, s := range mods {
		out = append(out, s.stable)
	}
	return out
}

// EnabledDeclaresKind reports whether at least one currently Enabled module
// declares a descriptor of the given capability kind — the precondition the
// Capability Registry checks before enabling a kind.
func (r *ModuleRegistry) EnabledDeclaresKind(projectID string, kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byProj[projectID] {
		if s.status != StatusEnabled {
			continue
		}
		for _, d := range s.stable.Capabilities {
			if string(d.Kind) == kind {
				return true
			}
		}
	}
	return false
}
