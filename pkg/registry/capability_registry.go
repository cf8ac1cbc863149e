package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

var (
	ErrCapabilityNotFound    = errors.New("registry: capability not found")
	ErrCapabilityNotDeclared = errors.New("registry: no enabled module declares this capability kind")
	ErrConfirmationRequired  = errors.New("registry: capability requires explicit confirmation to enable")
)

const enabledCapabilitiesFileName = "state/enabled-capabilities.json"

type capabilityKey struct {
	moduleID     string
	capabilityID string
}

// CapabilityRegistry tracks which declared capability instances are enabled
// for a project. Enabling a descriptor with AckRequired=true without
// confirmed=true is rejected outright — the typed-acknowledgment phrase
// itself is checked one layer up, by the Proposal Queue, before confirmed
// is ever passed here. Enabling a kind no currently-enabled module declares
// fails with ErrCapabilityNotDeclared.
type CapabilityRegistry struct {
	mu      sync.RWMutex
	enabled map[string]map[capabilityKey]manifest.CapabilityDescriptor // project_id -> key -> descriptor
	modules *ModuleRegistry
	resolve StateIOResolver
}

// NewCapabilityRegistry builds a CapabilityRegistry backed by modules for
// the declared-by-enabled-module check. resolve may be nil (in-memory).
func NewCapabilityRegistry(modules *ModuleRegistry, resolve StateIOResolver) *CapabilityRegistry {
	return &CapabilityRegistry{
		enabled: make(map[string]map[capabilityKey]manifest.CapabilityDescriptor),
		modules: modules,
		resolve: resolve,
	}
}

func (r *CapabilityRegistry) persist(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	kinds := r.enabledKindsLocked(projectID)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return io.WriteJSON(enabledCapabilitiesFileName, kinds)
}

// Enable turns on one capability instance for a project. confirmed must be
// true whenever desc.AckRequired is true; the caller is responsible for
// having verified the actual ack phrase and epoch.
func (r *CapabilityRegistry) Enable(projectID string, desc manifest.CapabilityDescriptor, confirmed bool) error {
	if desc.AckRequired && !confirmed {
		return ErrConfirmationRequired
	}
	if !taxonomy.Sound(desc.Kind) {
		return errors.New("registry: unsound capability kind")
	}
	if r.modules != nil && !r.modules.EnabledDeclaresKind(projectID, string(desc.Kind)) {
		return fmt.Errorf("%w: %s", ErrCapabilityNotDeclared, desc.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.enabled[projectID]
	if !ok {
		m = make(map[capabilityKey]manifest.CapabilityDescriptor)
		r.enabled[projectID] = m
	}
	m[capabilityKey{desc.ModuleID, desc.CapabilityID}] = desc
	return r.persist(projectID)
}

// Disable turns off one capability instance for a project.
func (r *CapabilityRegistry) Disable(projectID, moduleID, capabilityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.enabled[projectID]
	if !ok {
		return ErrCapabilityNotFound
	}
	key := capabilityKey{moduleID, capabilityID}
	if _, ok := m[key]; !ok {
		return ErrCapabilityNotFound
	}
	delete(m, key)
	return r.persist(projectID)
}

// IsEnabled reports whether a specific capability instance is enabled.
func (r *CapabilityRegistry) IsEnabled(projectID, moduleID, capabilityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.enabled[projectID][capabilityKey{moduleID, capabilityID}]
	return ok
}

func (r *CapabilityRegistry) enabledKindsLocked(projectID string) []taxonomy.Kind {
	seen := make(map[taxonomy.Kind]bool)
	for _, desc := range r.enabled[projectID] {
		seen[desc.Kind] = true
	}
	out := make([]taxonomy.Kind, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// EnabledKinds returns the deduplicated set of capability kinds with at
// least one enabled instance for a project — the Rule Snapshot's
// enabled_capabilities input. Unsorted; the Snapshot Builder sorts.
func (r *CapabilityRegistry) EnabledKinds(projectID string) []taxonomy.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledKindsLocked(projectID)
}
