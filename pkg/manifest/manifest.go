// Package manifest defines the Module Manifest and Capability Descriptor
// data model of spec.md §3, adapted from the teacher's pkg/manifest/schema.go
// (Module/CapabilityConfig/Bundle). Module version strings are validated as
// semver (github.com/Masterminds/semver/v3), the same library the teacher
// uses in pkg/pack/matrix.go to check pack/kernel compatibility constraints.
package manifest

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// HazardPair declares two capability kinds that are dangerous when
// co-enabled; enabling the second while the first is already enabled (or
// vice versa) requires operator hazard confirmation at proposal approval.
type HazardPair struct {
	A taxonomy.Kind `json:"a"`
	B taxonomy.Kind `json:"b"`
}

// CapabilityDescriptor is immutable content of a Module Manifest.
// NewCapabilityDescriptor always sets DefaultEnabled to false, and
// Module.Validate rejects any descriptor with it set — this is how this
// package enforces Invariant I1 (deny-by-default). The field is exported, so
// a struct literal can still set it; Validate is what catches that.
type CapabilityDescriptor struct {
	ModuleID       string        `json:"module_id"`
	CapabilityID   string        `json:"capability_id"`
	Kind           taxonomy.Kind `json:"kind"`
	Tier           taxonomy.Tier `json:"tier"`
	ParamsSchema   string        `json:"params_schema,omitempty"` // JSON Schema text, may be empty
	AckRequired    bool          `json:"ack_required"`
	DefaultEnabled bool          `json:"default_enabled"`
	Hazards        []HazardPair  `json:"hazards,omitempty"`
}

// NewCapabilityDescriptor builds a descriptor with default_enabled pinned to
// false, rejecting any kind outside the closed taxonomy (I7 defense in depth).
func NewCapabilityDescriptor(moduleID, capabilityID string, kind taxonomy.Kind, paramsSchema string, ackRequired bool, hazards ...HazardPair) (CapabilityDescriptor, error) {
	if !taxonomy.Sound(kind) {
		return CapabilityDescriptor{}, fmt.Errorf("manifest: unsound capability kind %q", kind)
	}
	return CapabilityDescriptor{
		ModuleID:       moduleID,
		CapabilityID:   capabilityID,
		Kind:           kind,
		Tier:           taxonomy.TierOf(kind),
		ParamsSchema:   paramsSchema,
		AckRequired:    ackRequired,
		DefaultEnabled: false,
		Hazards:        hazards,
	}, nil
}

// Module is the identity and content of a Capability Contribution Module.
type Module struct {
	ModuleID     string                 `json:"module_id"`
	Version      string                 `json:"version"`
	Description  string                 `json:"description"`
	Author       string                 `json:"author"`
	License      string                 `json:"license"`
	ContentHash  string                 `json:"content_hash"` // opaque brand over the manifest bytes
	Capabilities []CapabilityDescriptor `json:"capabilities"`
	// IntrinsicRestrictions holds DSL source the module ships with; these are
	// compiled (not trusted pre-compiled) the same way operator-authored
	// restrictions are.
	IntrinsicRestrictions []string `json:"intrinsic_restrictions,omitempty"`
	// ProfileSuggestions are non-authoritative hints; they never affect
	// enablement on their own.
	ProfileSuggestions []string `json:"profile_suggestions,omitempty"`
}

// Validate checks structural well-formedness: a parseable semver version,
// every descriptor's ModuleID matching this manifest, and default_enabled
// false everywhere (defense in depth alongside NewCapabilityDescriptor).
func (m Module) Validate() error {
	if m.ModuleID == "" {
		return fmt.Errorf("manifest: empty module_id")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest: module %q has invalid semver version %q: %w", m.ModuleID, m.Version, err)
	}
	for _, d := range m.Capabilities {
		if d.ModuleID != m.ModuleID {
			return fmt.Errorf("manifest: descriptor %q declares module_id %q, expected %q", d.CapabilityID, d.ModuleID, m.ModuleID)
		}
		if d.DefaultEnabled {
			return fmt.Errorf("manifest: descriptor %q violates I1 (default_enabled must be false)", d.CapabilityID)
		}
		if !taxonomy.Sound(d.Kind) {
			return fmt.Errorf("manifest: descriptor %q has unsound kind %q", d.CapabilityID, d.Kind)
		}
	}
	return nil
}

// CompareVersions compares a's and b's semver versions, returning -1, 0, or
// 1 as a is older than, equal to, or newer than b.
func CompareVersions(a, b Module) (int, error) {
	av, err := semver.NewVersion(a.Version)
	if err != nil {
		return 0, err
	}
	bv, err := semver.NewVersion(b.Version)
	if err != nil {
		return 0, err
	}
	return av.Compare(bv), nil
}
